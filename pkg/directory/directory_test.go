package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

func TestHTTPSource_FallsBackToHTTP(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"network":"mainnet","https_node_url":"https://a.example","historyfull":true},
			{"network":"testnet","https_node_url":"https://b.example","historyfull":false},
			{"network":"devnet","https_node_url":"https://c.example"},
			{"network":"mainnet","https_node_url":""}
		]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 2*time.Second, zap.NewNop())
	list, err := src.Fetch(context.Background(), nodes.Hyperion)
	require.NoError(t, err)
	require.Equal(t, []string{"/api/nodes/hyperion"}, paths)
	require.Len(t, list, 2)
	require.Equal(t, "https://a.example", list[0].URL)
	require.Equal(t, nodes.Mainnet, list[0].Network)
	require.True(t, list[0].HistoryFull)
	require.Equal(t, nodes.Unknown, list[0].Country)
	require.Equal(t, nodes.Testnet, list[1].Network)
}

func TestHTTPSource_AtomicIgnoresHistoryFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"network":"mainnet","https_node_url":"https://a.example","historyfull":true}]`))
	}))
	defer srv.Close()

	list, err := NewHTTPSource(srv.URL, time.Second, zap.NewNop()).Fetch(context.Background(), nodes.Atomic)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.False(t, list[0].HistoryFull)
	require.Equal(t, nodes.Atomic, list[0].Kind)
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, time.Second, zap.NewNop()).Fetch(context.Background(), nodes.Hyperion)
	require.Error(t, err)
}

func TestFileSource_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SEED_HOST", "seed.example")
	yml := `
kind: hyperion
nodes:
  - url: https://${SEED_HOST}
    network: mainnet
    historyfull: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hyperion.yaml"), []byte(yml), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atomic.yaml"), []byte("kind: atomic\nnodes:\n  - url: https://aa.example\n    network: testnet\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	src := &FileSource{Dir: dir, Logger: zap.NewNop()}
	list, err := src.Fetch(context.Background(), nodes.Hyperion)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "https://seed.example", list[0].URL)
	require.True(t, list[0].HistoryFull)

	list, err = src.Fetch(context.Background(), nodes.Atomic)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, nodes.Testnet, list[0].Network)
}

func TestFileSource_MissingDir(t *testing.T) {
	src := &FileSource{Dir: filepath.Join(t.TempDir(), "nope"), Logger: zap.NewNop()}
	list, err := src.Fetch(context.Background(), nodes.Hyperion)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestFileSource_BadFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("kind: atomic\nnodes:\n  - url: https://x\n    network: devnet\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("kind: [atomic\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weird.yaml"), []byte("kind: evm\nnodes: []\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("kind: atomic\nnodes:\n  - url: https://aa.example\n    network: mainnet\n"), 0644))

	core, logs := observer.New(zap.ErrorLevel)
	list, err := (&FileSource{Dir: dir, Logger: zap.New(core)}).Fetch(context.Background(), nodes.Atomic)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "https://aa.example", list[0].URL)

	skipped := logs.FilterMessage("seed_file_invalid_skipped").All()
	require.Len(t, skipped, 3)
	files := map[string]bool{}
	for _, e := range skipped {
		files[e.ContextMap()["file"].(string)] = true
	}
	require.Equal(t, map[string]bool{"bad.yaml": true, "broken.yml": true, "weird.yaml": true}, files)
}

type staticSource struct {
	list []nodes.Node
	err  error
}

func (s staticSource) Fetch(context.Context, nodes.Kind) ([]nodes.Node, error) { return s.list, s.err }

func TestMulti_DedupesAndAggregatesErrors(t *testing.T) {
	a := nodes.NewCandidate(nodes.Hyperion, nodes.Mainnet, "https://a", true)
	b := nodes.NewCandidate(nodes.Hyperion, nodes.Mainnet, "https://b", false)
	aTest := nodes.NewCandidate(nodes.Hyperion, nodes.Testnet, "https://a", false)

	m := Multi{
		staticSource{list: []nodes.Node{a, b}},
		staticSource{err: errors.New("boom one")},
		staticSource{list: []nodes.Node{b, aTest}},
		staticSource{err: errors.New("boom two")},
	}
	list, err := m.Fetch(context.Background(), nodes.Hyperion)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "boom one") && strings.Contains(err.Error(), "boom two"))
	require.Equal(t, []nodes.Node{a, b, aTest}, list)
}

func TestByNetwork(t *testing.T) {
	list := []nodes.Node{
		nodes.NewCandidate(nodes.Atomic, nodes.Testnet, "https://t1", false),
		nodes.NewCandidate(nodes.Atomic, nodes.Mainnet, "https://m1", false),
		nodes.NewCandidate(nodes.Atomic, nodes.Testnet, "https://t2", false),
	}
	split := ByNetwork(nodes.Atomic, list)
	require.Len(t, split, 2)
	tn := split[nodes.Bucket{Kind: nodes.Atomic, Network: nodes.Testnet}]
	require.Equal(t, "https://t1", tn[0].URL)
	require.Equal(t, "https://t2", tn[1].URL)
	require.Len(t, split[nodes.Bucket{Kind: nodes.Atomic, Network: nodes.Mainnet}], 1)
}
