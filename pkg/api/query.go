package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
	"github.com/shuliakovsky/wax-node-directory/pkg/selector"
)

// ParseQuery reads the /nodes parameters. Missing or malformed values fall
// back to the defaults instead of failing the request.
func ParseQuery(r *http.Request) selector.Query {
	q := selector.DefaultQuery()
	v := r.URL.Query()

	if k, ok := nodes.ParseKind(v.Get("type")); ok {
		q.Kind = k
	}
	if n, ok := nodes.ParseNetwork(v.Get("network")); ok {
		q.Network = n
	}
	if c, err := strconv.Atoi(v.Get("count")); err == nil && c > 0 {
		q.Limit = c
	}
	q.HistoryFull = boolParam(v.Get("historyfull"), q.HistoryFull)
	q.Streaming = boolParam(v.Get("streaming"), q.Streaming)
	q.AtomicAssets = boolParam(v.Get("atomicassets"), q.AtomicAssets)
	q.AtomicMarket = boolParam(v.Get("atomicmarket"), q.AtomicMarket)
	return q
}

func boolParam(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

// TrustedProxies lists the peers whose forwarding headers are believed.
// The zero value trusts nobody.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies reads a comma separated list of CIDRs or single addresses.
func ParseTrustedProxies(list string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: invalid address", item)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(item)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", item, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (t TrustedProxies) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range t {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address. Forwarding headers are only read when
// the socket peer is a trusted proxy; X-Forwarded-For is walked from the
// right and the first hop that is not itself a trusted proxy wins.
func (t TrustedProxies) ClientIP(r *http.Request) net.IP {
	peer := peerIP(r)
	if !t.Contains(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		var leftmost net.IP
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			leftmost = ip
			if !t.Contains(ip) {
				return ip
			}
		}
		if leftmost != nil {
			return leftmost
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip
	}
	return peer
}

func peerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
