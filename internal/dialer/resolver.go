package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Resolver answers lookups against a single configured DNS server rather
// than the system resolver.
type Resolver struct {
	server string
	client *dns.Client
}

// NewResolver builds a Resolver for the given server. A bare host gets the
// standard DNS port appended.
func NewResolver(server string) *Resolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{server: server, client: &dns.Client{}}
}

// LookupIP resolves host to its A and AAAA records, queried concurrently.
// IP literals pass through untouched. A record type that fails or returns
// nothing is tolerated as long as the other produced at least one address.
func (r *Resolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var (
		g          errgroup.Group
		v4, v6     []net.IP
		err4, err6 error
	)
	g.Go(func() error {
		v4, err4 = r.query(ctx, host, dns.TypeA)
		return nil
	})
	g.Go(func() error {
		v6, err6 = r.query(ctx, host, dns.TypeAAAA)
		return nil
	})
	_ = g.Wait()

	ips := append(v4, v6...)
	if len(ips) == 0 {
		if err4 != nil {
			return nil, err4
		}
		if err6 != nil {
			return nil, err6
		}
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	return ips, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", dns.TypeToString[qtype], host, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("resolve %s %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			ips = append(ips, rr.A)
		case *dns.AAAA:
			ips = append(ips, rr.AAAA)
		}
	}
	return ips, nil
}
