package acme

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
)

// TXTLookup resolves the TXT records for a name.
type TXTLookup func(ctx context.Context, name string) ([]string, error)

// NewTXTLookup builds a lookup pinned to a specific resolver address
// (host:port) so propagation checks see public DNS, not the host's cache.
// An empty address falls back to the system resolver.
func NewTXTLookup(resolverAddr string) TXTLookup {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			if resolverAddr != "" {
				address = resolverAddr
			}
			return d.DialContext(ctx, network, address)
		},
	}
	return func(ctx context.Context, name string) ([]string, error) {
		values, err := r.LookupTXT(ctx, name)
		if err != nil && resolverAddr != "" {
			// Freshly published records sometimes miss through the resolver
			// path; retry with a raw exchange before reporting absence.
			if direct, derr := QueryTXTDirect(name, resolverAddr); derr == nil && len(direct) > 0 {
				return direct, nil
			}
		}
		return values, err
	}
}

// QueryTXTDirect asks a resolver for TXT records with a raw DNS exchange,
// bypassing the Go resolver path entirely. Used as a fallback when the
// PreferGo lookup returns nothing for a freshly published record.
func QueryTXTDirect(name, resolverAddr string) ([]string, error) {
	c := &dns.Client{Timeout: 5 * time.Second}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	r, _, err := c.Exchange(m, resolverAddr)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, rr := range r.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			for _, v := range txt.Txt {
				values = append(values, v)
			}
		}
	}
	return values, nil
}

// compareTXT splits expected values into found and missing against a live
// answer set.
func compareTXT(expected, live []string) (found, missing []string) {
	seen := make(map[string]bool, len(live))
	for _, v := range live {
		seen[v] = true
	}
	for _, v := range expected {
		if seen[v] {
			found = append(found, v)
		} else {
			missing = append(missing, v)
		}
	}
	return found, missing
}
