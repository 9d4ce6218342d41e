package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

var ErrNoAddress = errors.New("no address records")

type SystemResolver struct{}

func (SystemResolver) LookupIP(ctx context.Context, host string) (net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, ErrNoAddress
	}
	return ips[0], nil
}

// DNSResolver queries one nameserver directly, A first and AAAA as fallback.
type DNSResolver struct {
	Server string // host:port
	client *dns.Client
}

func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{Server: server, client: &dns.Client{Timeout: timeout}}
}

func (r *DNSResolver) LookupIP(ctx context.Context, host string) (net.IP, error) {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ip, err := r.query(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		if ip != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", host, ErrNoAddress)
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, fmt.Errorf("dns exchange %s: %w", host, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns %s: %s", host, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.A:
			return v.A, nil
		case *dns.AAAA:
			return v.AAAA, nil
		}
	}
	return nil, nil
}
