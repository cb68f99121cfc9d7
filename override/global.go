package override

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/mjl-/hostoverride/mlog"
)

var ErrAlreadyInitialized = errors.New("override: already initialized")

// Process-wide provider, set once by Initialize.
var global struct {
	sync.Mutex
	provider *Provider

	// Hooks of net.DefaultResolver before Initialize replaced them.
	prevPreferGo bool
	prevDial     func(ctx context.Context, network, address string) (net.Conn, error)
}

// Provider is the process-wide handle for override resolution, installed by
// Initialize. Its Dial is the hook of net.DefaultResolver, see Initialize for
// its limits on isolation.
type Provider struct {
	Registry     *Registry
	Orchestrator *Orchestrator
}

// Initialize installs the process-wide provider, once per process. Its root
// resolver uses config (nil for an empty configuration) and is used for
// contexts not started through the provider's orchestrator.
//
// Initialize hooks net.DefaultResolver: Go-native lookups through it, which
// includes lookups by net.Dial and net/http, are answered by the resolver
// registered for the context of the lookup. Call Initialize before any
// resolution is done.
//
// The hooked net.DefaultResolver is not strictly isolated: it merges
// concurrent lookups of the same host, regardless of their contexts. A lookup
// that overlaps another context's lookup of the same host can receive that
// context's answer. Contexts that run concurrently and need their own answers
// must resolve through Provider.NetResolver or Resolver.NetResolver, which have
// one net.Resolver per override resolver.
//
// A second call returns ErrAlreadyInitialized and changes nothing. If config
// does not validate, the error is returned and the process remains
// uninitialized.
func Initialize(config *Configuration, opts Options) (*Provider, error) {
	global.Lock()
	defer global.Unlock()

	if global.provider != nil {
		return nil, ErrAlreadyInitialized
	}

	root := NewResolver(config, opts)
	if err := root.Validate(); err != nil {
		return nil, err
	}
	reg := NewRegistry()
	reg.SetRoot(root)
	p := &Provider{
		Registry:     reg,
		Orchestrator: NewOrchestrator(reg, opts),
	}

	global.prevPreferGo = net.DefaultResolver.PreferGo
	global.prevDial = net.DefaultResolver.Dial
	net.DefaultResolver.PreferGo = true
	net.DefaultResolver.Dial = p.Dial
	global.provider = p

	mlog.New("override", opts.Log).Info("host override initialized", slog.Int("mappings", len(root.Configuration().Mappings())))
	return p, nil
}

// Default returns the provider installed by Initialize, or nil.
func Default() *Provider {
	global.Lock()
	defer global.Unlock()
	return global.provider
}

// Resolver returns the resolver for ctx: the one registered for ctx or its
// nearest registered ancestor, or the root resolver.
func (p *Provider) Resolver(ctx context.Context) *Resolver {
	r, _ := p.Registry.Lookup(ctx)
	return r
}

// LookupIPAddr resolves host with the resolver for ctx.
func (p *Provider) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return p.Resolver(ctx).LookupIPAddr(ctx, host)
}

// NetResolver returns the net.Resolver of the resolver for ctx. Unlike
// net.DefaultResolver, its lookups are never merged with those of other
// contexts.
func (p *Provider) NetResolver(ctx context.Context) *net.Resolver {
	return p.Resolver(ctx).NetResolver()
}

// Execute runs work in a new isolated context, see Orchestrator.Execute.
func (p *Provider) Execute(ctx context.Context, config *Configuration, work func(ctx context.Context) error) *Execution {
	return p.Orchestrator.Execute(ctx, config, work)
}

// Dial is the hook installed as net.DefaultResolver.Dial. The connection is
// answered in-process by the resolver for ctx.
func (p *Provider) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return p.Resolver(ctx).dial(ctx, network, address)
}
