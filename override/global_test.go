package override

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mjl-/adns"

	"github.com/mjl-/hostoverride/dns"
)

// resetGlobal undoes Initialize, restoring net.DefaultResolver.
func resetGlobal() {
	global.Lock()
	defer global.Unlock()
	if global.provider != nil {
		net.DefaultResolver.PreferGo = global.prevPreferGo
		net.DefaultResolver.Dial = global.prevDial
	}
	global.provider = nil
}

func TestInitialize(t *testing.T) {
	defer resetGlobal()
	preferGo := net.DefaultResolver.PreferGo

	_, err := Initialize(NewBuilder().Add("10.0.0.1", "a.test").Add("10.0.0.2", "a.test").Build(), Options{})
	if !errors.Is(err, ErrConflictingOverride) {
		t.Fatalf("got err %v, expected ErrConflictingOverride", err)
	}
	if Default() != nil {
		t.Fatalf("initialized after failed initialize")
	}
	if net.DefaultResolver.PreferGo != preferGo {
		t.Fatalf("default resolver changed after failed initialize")
	}

	mock := &dns.MockResolver{A: map[string][]string{"other.test": {"192.0.2.7"}}}
	p, err := Initialize(NewBuilder().Add("10.0.0.5", "svc.test").Build(), Options{Fallback: mock})
	tcheck(t, err, "initialize")
	if Default() != p {
		t.Fatalf("default provider is not initialized provider")
	}

	_, err = Initialize(nil, Options{})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("got err %v, expected ErrAlreadyInitialized", err)
	}
	if Default() != p {
		t.Fatalf("second initialize changed provider")
	}

	ips, err := p.LookupIPAddr(ctxbg, "svc.test")
	tcheck(t, err, "lookup through provider")
	tcompare(t, ips, []net.IPAddr{{IP: net.IP{10, 0, 0, 5}}})
	if p.Resolver(ctxbg) != p.Registry.Root() {
		t.Fatalf("resolver for background context is not root resolver")
	}

	// Ordinary Go lookups are answered by the root resolver.
	l, err := net.DefaultResolver.LookupHost(ctxbg, "svc.test")
	tcheck(t, err, "lookup svc.test")
	tcompare(t, l, []string{"10.0.0.5"})
	l, err = net.DefaultResolver.LookupHost(ctxbg, "other.test")
	tcheck(t, err, "lookup other.test")
	tcompare(t, l, []string{"192.0.2.7"})

	// And within a context by its own resolver.
	x := p.Execute(ctxbg, NewBuilder().Add("10.9.9.9", "svc.test").Build(), func(ctx context.Context) error {
		l, err := net.DefaultResolver.LookupHost(ctx, "svc.test")
		if err != nil {
			return err
		}
		if len(l) != 1 || l[0] != "10.9.9.9" {
			return fmt.Errorf("got %v, expected 10.9.9.9", l)
		}
		l, err = p.NetResolver(ctx).LookupHost(ctx, "svc.test")
		if err != nil {
			return err
		}
		if len(l) != 1 || l[0] != "10.9.9.9" {
			return fmt.Errorf("net resolver: got %v, expected 10.9.9.9", l)
		}
		return nil
	})
	tcheck(t, x.Wait(), "execute")
}

// gateResolver answers lookups of host with addr, after release is closed.
// Started is closed when the first lookup of host begins. Other hosts are not
// found.
type gateResolver struct {
	host, addr string
	started    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (g *gateResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, adns.Result, error) {
	if host != g.host {
		return nil, adns.Result{}, &adns.DNSError{Err: "no record", Name: host, IsNotFound: true}
	}
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, adns.Result{}, ctx.Err()
	}
	return []net.IPAddr{{IP: net.ParseIP(g.addr)}}, adns.Result{}, nil
}

func TestInitializeConcurrentContexts(t *testing.T) {
	defer resetGlobal()

	gate := &gateResolver{
		host:    "x.test",
		addr:    "192.0.2.1",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p, err := Initialize(nil, Options{Fallback: gate})
	tcheck(t, err, "initialize")

	lookup := func(ctx context.Context, nr *net.Resolver, exp string) error {
		ips, err := nr.LookupIPAddr(ctx, "x.test")
		if err != nil {
			return err
		}
		if len(ips) != 1 || ips[0].IP.String() != exp {
			return fmt.Errorf("got %v, expected %s", ips, exp)
		}
		return nil
	}

	// Context a resolves genuinely, and hangs until released.
	xa := p.Execute(ctxbg, nil, func(ctx context.Context) error {
		return lookup(ctx, p.NetResolver(ctx), "192.0.2.1")
	})
	select {
	case <-gate.started:
	case <-xa.Done():
		t.Fatalf("context a finished early: %v", xa.Wait())
	}

	// Context b overrides the host, and must not join the lookup of a.
	xb := p.Execute(ctxbg, NewBuilder().Add("10.0.0.2", "x.test").Build(), func(ctx context.Context) error {
		return lookup(ctx, p.NetResolver(ctx), "10.0.0.2")
	})
	select {
	case <-xb.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("lookup in context b waited for context a")
	}
	tcheck(t, xb.Wait(), "context b")

	close(gate.release)
	tcheck(t, xa.Wait(), "context a")

	// Without overlap, lookups through the hooked default resolver are answered
	// per context too.
	x := p.Execute(ctxbg, NewBuilder().Add("10.0.0.2", "x.test").Build(), func(ctx context.Context) error {
		return lookup(ctx, net.DefaultResolver, "10.0.0.2")
	})
	tcheck(t, x.Wait(), "default resolver in context")
	tcheck(t, lookup(ctxbg, net.DefaultResolver, "192.0.2.1"), "default resolver in root")
}
