package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjl-/hostoverride/dns"
	"github.com/mjl-/hostoverride/mlog"
	"github.com/mjl-/hostoverride/stub"
)

var (
	ErrNotValidated = errors.New("override: configuration not validated")
	ErrNoOverride   = errors.New("override: no override for host")
)

var (
	// Labels source (explicit, hosts, fallback, shared) and result (ok,
	// notfound, malformed, error). Source shared counts lookups answered from
	// the cache or by a computation started by another caller.
	MetricResolve stub.CounterVec = stub.CounterVecIgnore{}
)

// HostsSource provides statically configured overrides, e.g. a
// *hostsfile.Table.
type HostsSource interface {
	Override(host string) (ip string, ok bool)
}

// Options configure the collaborators of a Resolver.
type Options struct {
	// Hosts is consulted for hosts without an explicit mapping. Optional.
	Hosts HostsSource

	// Fallback does genuine resolution for hosts without override. If nil, a
	// dns.SystemResolver is used.
	Fallback dns.Resolver

	// Maximum number of contexts an Orchestrator runs at the same time. Zero
	// means no limit.
	MaxContexts int

	Log *slog.Logger
}

// Resolver resolves host names for one context: from the explicit mappings of
// its configuration, then the hosts source, then genuine resolution. Results
// are cached for the lifetime of the Resolver. A Resolver is safe for
// concurrent use.
type Resolver struct {
	config   *Configuration
	hosts    HostsSource
	fallback dns.Resolver
	elog     *slog.Logger
	log      mlog.Log

	validated atomic.Bool
	cache     atomic.Pointer[cache]

	netOnce     sync.Once
	netResolver *net.Resolver
}

// NewResolver returns a resolver for config, which must be validated with
// Validate before lookups are done. A nil config is an empty configuration.
func NewResolver(config *Configuration, opts Options) *Resolver {
	if config == nil {
		config = NewBuilder().Build()
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = dns.SystemResolver{Pkg: "override", Log: opts.Log}
	}
	r := &Resolver{
		config:   config,
		hosts:    opts.Hosts,
		fallback: fallback,
		elog:     opts.Log,
		log:      mlog.New("override", opts.Log),
	}
	r.cache.Store(newCache())
	return r
}

// Configuration returns the configuration the resolver was created with.
func (r *Resolver) Configuration() *Configuration {
	return r.config
}

// Validate validates the configuration. Until it succeeds, lookups fail with
// ErrNotValidated.
func (r *Resolver) Validate() error {
	if err := r.config.Validate(); err != nil {
		return err
	}
	r.validated.Store(true)
	return nil
}

// InitializeCache replaces the cache with an empty one. Computations in flight
// complete for their callers but don't end up in the new cache.
func (r *Resolver) InitializeCache() {
	r.cache.Store(newCache())
}

func (r *Resolver) override(host string) (ip, source string, ok bool) {
	if ip, ok := r.config.Lookup(host); ok {
		return ip, "explicit", true
	}
	if r.hosts != nil {
		if ip, ok := r.hosts.Override(host); ok {
			return ip, "hosts", true
		}
	}
	return "", "", false
}

// GetOverride returns the address of the explicit mapping or hosts entry for
// host, or ErrNoOverride if neither has one. No genuine resolution is done and
// the cache is not used.
func (r *Resolver) GetOverride(host string) (net.IP, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidHostname)
	}
	if !r.validated.Load() {
		return nil, ErrNotValidated
	}
	ip, source, ok := r.override(host)
	if !ok {
		return nil, ErrNoOverride
	}
	b, err := dns.ToBytes(ip)
	if err != nil {
		return nil, fmt.Errorf("%s override for %s: %w", source, host, err)
	}
	return b, nil
}

// LookupIPAddr resolves all addresses for host. Overridden hosts resolve to
// exactly one address. Outcomes are cached: successes, unknown hosts and
// malformed override addresses are returned identically for later lookups of
// the same host. Other errors, e.g. temporary failures of genuine resolution,
// are returned to the callers waiting for them but not cached.
func (r *Resolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidHostname)
	}
	if !r.validated.Load() {
		return nil, ErrNotValidated
	}
	key, err := dns.CanonicalHost(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidHostname, host, err)
	}

	c := r.cache.Load()
	e, shared, err := c.load(ctx, key, func(ctx context.Context) *cacheEntry {
		return r.resolve(ctx, key)
	}, cacheable)
	if err != nil {
		return nil, err
	}
	if shared {
		MetricResolve.IncLabels("shared", resultLabel(e.err))
	}
	if e.err != nil {
		return nil, e.err
	}
	return cloneAddrs(e.addrs), nil
}

// resolve runs the lookup chain for host, in canonical form.
func (r *Resolver) resolve(ctx context.Context, host string) *cacheEntry {
	start := time.Now()
	e := &cacheEntry{}
	if ip, source, ok := r.override(host); ok {
		e.source = source
		if b, err := dns.ToBytes(ip); err != nil {
			e.err = fmt.Errorf("%s override for %s: %w", source, host, err)
		} else {
			e.addrs = []net.IPAddr{{IP: b}}
		}
	} else {
		e.source = "fallback"
		e.addrs, _, e.err = r.fallback.LookupIPAddr(ctx, host)
	}
	MetricResolve.IncLabels(e.source, resultLabel(e.err))
	r.log.WithContext(ctx).Debugx("resolved host", e.err,
		slog.String("host", host),
		slog.String("source", e.source),
		slog.Any("addrs", e.addrs),
		slog.Duration("duration", time.Since(start)),
	)
	return e
}

func cacheable(e *cacheEntry) bool {
	return e.err == nil || dns.IsNotFound(e.err) || errors.Is(e.err, dns.ErrMalformedAddress)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case dns.IsNotFound(err):
		return "notfound"
	case errors.Is(err, dns.ErrMalformedAddress):
		return "malformed"
	}
	return "error"
}

func cloneAddrs(l []net.IPAddr) []net.IPAddr {
	r := make([]net.IPAddr, len(l))
	for i, a := range l {
		r[i] = net.IPAddr{IP: append(net.IP{}, a.IP...), Zone: a.Zone}
	}
	return r
}

// LookupHost is like LookupIPAddr, but returns the addresses in text form.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	l := make([]string, len(addrs))
	for i, a := range addrs {
		l[i] = a.String()
	}
	return l, nil
}

// LookupIP is like LookupIPAddr, but only returns addresses for network, which
// must be "ip", "ip4" or "ip6".
func (r *Resolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	switch network {
	case "ip", "ip4", "ip6":
	default:
		return nil, fmt.Errorf("override: unsupported network %q", network)
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		is4 := a.IP.To4() != nil
		if network == "ip" || network == "ip4" && is4 || network == "ip6" && !is4 {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no suitable address found", Name: host, IsNotFound: true}
	}
	return ips, nil
}
