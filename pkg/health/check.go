package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/shuliakovsky/wax-node-directory/pkg/geo"
	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/secrets"
)

var (
	ErrBadStatus = errors.New("unexpected http status")
	ErrMalformed = errors.New("malformed response")
	ErrPanicked  = errors.New("check panicked")
)

// Probe decides whether one node is healthy and returns it enriched with
// kind-specific capability fields. It never returns an error: every failure
// is reported as unhealthy.
type Probe interface {
	Probe(ctx context.Context, n nodes.Node) (nodes.Node, bool)
}

type Checker struct {
	Timeout   time.Duration
	TorSocks5 string
	Logger    *zap.Logger
	Geo       geo.Resolver
	Clock     clock.Clock

	client *http.Client
}

// New builds a Checker. socks5 may be empty; when set every probe request is
// dialed through that SOCKS5 proxy.
func New(timeout time.Duration, socks5 string, resolver geo.Resolver, logger *zap.Logger) (*Checker, error) {
	c := &Checker{
		Timeout:   timeout,
		TorSocks5: socks5,
		Logger:    logger,
		Geo:       resolver,
		Clock:     clock.New(),
	}
	cl, err := c.httpClient()
	if err != nil {
		return nil, err
	}
	c.client = cl
	return c, nil
}

func (c *Checker) httpClient() (*http.Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 8 * time.Second,
	}
	if c.TorSocks5 != "" {
		dialer, err := proxy.SOCKS5("tcp", c.TorSocks5, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}
	return &http.Client{Transport: transport}, nil
}

// Probes returns the probe implementation for every kind.
func (c *Checker) Probes(atomic AtomicOptions) map[nodes.Kind]Probe {
	return map[nodes.Kind]Probe{
		nodes.Hyperion: &HyperionProbe{Checker: c},
		nodes.Atomic:   &AtomicProbe{Checker: c, Options: atomic.withDefaults()},
	}
}

// getJSON issues one GET bounded by the checker timeout and decodes the body into out.
func (c *Checker) getJSON(ctx context.Context, base, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formatURL(base, path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %w %d", path, ErrBadStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", path, ErrMalformed, err)
	}
	return nil
}

// enrichGeo fills the location fields. A failed lookup leaves them unknown
// and never affects the health result.
func (c *Checker) enrichGeo(ctx context.Context, n nodes.Node) nodes.Node {
	n.Geo = nodes.UnknownGeo()
	if c.Geo == nil {
		return n
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	n.Geo = c.Geo.Resolve(ctx, n.URL).Normalize()
	return n
}

// guarded runs fn and reports a panic as an error, for goroutines that the
// caller's own recover cannot reach.
func guarded(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanicked, r)
			}
		}()
		return fn()
	}
}

// recoverFlag is deferred by capability chains: a panic clears the flag.
func (c *Checker) recoverFlag(chain, base string, flag *bool) {
	if r := recover(); r != nil {
		c.Logger.Error("probe_chain_panic",
			zap.String("chain", chain),
			secrets.URL("url", base),
			zap.Any("panic", r))
		*flag = false
	}
}

func formatURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
