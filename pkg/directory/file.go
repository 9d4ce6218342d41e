package directory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

// FileSource reads static seed nodes from *.yaml files in Dir. The files are
// re-read on every fetch so edits are picked up by the next refresh.
//
//	kind: hyperion
//	nodes:
//	  - url: https://${OPERATOR_HOST}
//	    network: mainnet
//	    historyfull: true
type FileSource struct {
	Dir    string
	Logger *zap.Logger
}

type seedFile struct {
	Kind  string     `yaml:"kind"`
	Nodes []seedNode `yaml:"nodes"`
}

type seedNode struct {
	URL         string `yaml:"url"`
	Network     string `yaml:"network"`
	HistoryFull bool   `yaml:"historyfull"`
}

var envRef = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// Fetch returns the seed nodes of kind. A file that fails to parse is logged
// and skipped so one bad file does not block the others.
func (s *FileSource) Fetch(_ context.Context, kind nodes.Kind) ([]nodes.Node, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []nodes.Node
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		list, err := s.fromFile(filepath.Join(s.Dir, e.Name()), kind)
		if err != nil {
			s.Logger.Error("seed_file_invalid_skipped",
				zap.String("file", e.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, list...)
	}
	return out, nil
}

func (s *FileSource) fromFile(path string, kind nodes.Kind) ([]nodes.Node, error) {
	sf, err := s.load(path)
	if err != nil {
		return nil, err
	}
	k, ok := nodes.ParseKind(sf.Kind)
	if !ok {
		return nil, fmt.Errorf("%q: %w", sf.Kind, ErrUnknownKind)
	}
	if k != kind {
		return nil, nil
	}
	out := make([]nodes.Node, 0, len(sf.Nodes))
	for i, n := range sf.Nodes {
		net, ok := nodes.ParseNetwork(n.Network)
		if !ok || n.URL == "" {
			return nil, fmt.Errorf("node %d: invalid url or network", i)
		}
		out = append(out, nodes.NewCandidate(k, net, n.URL, n.HistoryFull && k == nodes.Hyperion))
	}
	return out, nil
}

func (s *FileSource) load(path string) (seedFile, error) {
	var sf seedFile
	b, err := os.ReadFile(path)
	if err != nil {
		return sf, err
	}
	b = envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		k := string(envRef.FindSubmatch(m)[1])
		val := os.Getenv(k)
		if val == "" {
			s.Logger.Warn("seed_env_variable_empty",
				zap.String("file", filepath.Base(path)),
				zap.String("var", k))
		}
		return []byte(val)
	})
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return sf, err
	}
	return sf, nil
}
