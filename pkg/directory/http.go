package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

// HTTPSource reads the public node directory at {host}/api/nodes/{kind}.
// HTTPS is tried first, plain HTTP only when it fails.
type HTTPSource struct {
	Host   string
	Client *http.Client
	Logger *zap.Logger
}

type entry struct {
	Network     string `json:"network"`
	URL         string `json:"https_node_url"`
	HistoryFull bool   `json:"historyfull"`
}

func NewHTTPSource(host string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://"), "/")
	return &HTTPSource{
		Host:   host,
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, kind nodes.Kind) ([]nodes.Node, error) {
	if _, ok := nodes.ParseKind(string(kind)); !ok {
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	path := s.Host + "/api/nodes/" + string(kind)

	entries, err := s.get(ctx, "https://"+path)
	if err != nil {
		s.Logger.Warn("directory_https_failed_fallback_http", zap.String("path", path), zap.Error(err))
		entries, err = s.get(ctx, "http://"+path)
		if err != nil {
			return nil, fmt.Errorf("directory %s: %w", kind, err)
		}
	}

	out := make([]nodes.Node, 0, len(entries))
	for _, e := range entries {
		net, ok := nodes.ParseNetwork(e.Network)
		if !ok || strings.TrimSpace(e.URL) == "" {
			continue
		}
		historyFull := e.HistoryFull
		if kind != nodes.Hyperion {
			historyFull = false
		}
		out = append(out, nodes.NewCandidate(kind, net, strings.TrimSpace(e.URL), historyFull))
	}
	return out, nil
}

func (s *HTTPSource) get(ctx context.Context, url string) ([]entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	var out []entry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", url, err)
	}
	return out, nil
}
