package geo

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/secrets"
)

// Resolver is best-effort: it never fails, missing data comes back as nodes.Unknown.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) nodes.Geo
	Lookup(ip net.IP) nodes.Geo
}

// Database maps an IP address to a location.
type Database interface {
	Locate(ip net.IP) (nodes.Geo, error)
}

// HostResolver turns a hostname into one address.
type HostResolver interface {
	LookupIP(ctx context.Context, host string) (net.IP, error)
}

type Locator struct {
	db     Database
	hosts  HostResolver
	cache  *expirable.LRU[string, nodes.Geo]
	logger *zap.Logger
}

const (
	cacheSize = 2048
	cacheTTL  = 6 * time.Hour
)

// NewLocator builds a Locator. A nil db makes every lookup unknown.
func NewLocator(db Database, hosts HostResolver, logger *zap.Logger) *Locator {
	if hosts == nil {
		hosts = SystemResolver{}
	}
	return &Locator{
		db:     db,
		hosts:  hosts,
		cache:  expirable.NewLRU[string, nodes.Geo](cacheSize, nil, cacheTTL),
		logger: logger,
	}
}

func (l *Locator) Resolve(ctx context.Context, rawURL string) nodes.Geo {
	host, err := hostname(rawURL)
	if err != nil {
		l.logger.Debug("geo_bad_url", secrets.URL("url", rawURL), zap.Error(err))
		return nodes.UnknownGeo()
	}
	if g, ok := l.cache.Get(host); ok {
		return g
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ip, err = l.hosts.LookupIP(ctx, host)
		if err != nil {
			l.logger.Warn("geo_dns_lookup_failed", zap.String("host", host), zap.Error(err))
			return nodes.UnknownGeo()
		}
	}

	g, ok := l.locate(ip)
	if ok {
		l.cache.Add(host, g)
	}
	return g
}

func (l *Locator) Lookup(ip net.IP) nodes.Geo {
	if ip == nil {
		return nodes.UnknownGeo()
	}
	key := ip.String()
	if g, ok := l.cache.Get(key); ok {
		return g
	}
	g, ok := l.locate(ip)
	if ok {
		l.cache.Add(key, g)
	}
	return g
}

func (l *Locator) locate(ip net.IP) (nodes.Geo, bool) {
	if l.db == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return nodes.UnknownGeo(), false
	}
	g, err := l.db.Locate(ip)
	if err != nil {
		l.logger.Debug("geo_locate_failed", zap.String("ip", ip.String()), zap.Error(err))
		return nodes.UnknownGeo(), false
	}
	return g.Normalize(), true
}

func hostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return u.Hostname(), nil
}
