package dns

import (
	"context"
	"net"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/mjl-/adns"
)

// MockResolver is a Resolver used for testing.
// Set address records in the fields, which map host names to IP addresses.
// Host names are used as given, no canonicalization is done.
type MockResolver struct {
	A     map[string][]string
	AAAA  map[string][]string
	CNAME map[string]string
	Fail  []string // Host names that will return a servfail.

	// If not nil, lookups block until Block is closed or the context is done.
	// Useful to have concurrent lookups overlap.
	Block chan struct{}

	mu    sync.Mutex
	calls map[string]int
}

var _ Resolver = (*MockResolver)(nil)

// Calls returns the number of lookups done for host.
func (r *MockResolver) Calls(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[host]
}

func (r *MockResolver) nxdomain(s string) error {
	return &adns.DNSError{
		Err:        "no record",
		Name:       s,
		Server:     "mock",
		IsNotFound: true,
	}
}

func (r *MockResolver) servfail(s string) error {
	return &adns.DNSError{
		Err:         "temp error",
		Name:        s,
		Server:      "mock",
		IsTemporary: true,
	}
}

func (r *MockResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, adns.Result, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[host]++
	r.mu.Unlock()

	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return nil, adns.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, adns.Result{}, err
	}

	name := host
	for {
		if slices.Contains(r.Fail, name) {
			return nil, adns.Result{}, r.servfail(name)
		}
		cname, ok := r.CNAME[name]
		if !ok {
			break
		}
		name = cname
	}

	var ips []net.IPAddr
	for _, s := range append(slices.Clone(r.A[name]), r.AAAA[name]...) {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, adns.Result{}, r.servfail(name)
		}
		ips = append(ips, net.IPAddr{IP: ip})
	}
	if len(ips) == 0 {
		return nil, adns.Result{}, r.nxdomain(host)
	}
	return ips, adns.Result{}, nil
}
