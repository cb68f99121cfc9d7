package override

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjl-/hostoverride/mlog"
)

var ErrNotRegistered = errors.New("override: no resolver registered for context")

var cid atomic.Int64

func init() {
	cid.Store(time.Now().UnixMilli())
}

// nextCid returns a new unique id for a registration, also used as "cid" in
// logging.
func nextCid() int64 {
	return cid.Add(1)
}

// registration is stored in a context. Contexts derived from it see the same
// registration. Parent is the registration of the context that Register was
// called with, if any.
type registration struct {
	id     int64
	parent *registration
}

type registryKey struct {
	reg *Registry
}

// Registry associates contexts with resolvers. The association is inherited by
// all contexts derived from a registered context. The registry only holds the
// association for lookups, unregistering ends it. A root resolver, if set, is
// used for contexts without registration. Registry is safe for concurrent
// use, lookups don't block each other.
type Registry struct {
	resolvers sync.Map // int64 registration id -> *Resolver
	root      atomic.Pointer[Resolver]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// SetRoot sets the resolver for contexts without registration.
func (reg *Registry) SetRoot(r *Resolver) {
	reg.root.Store(r)
}

// Root returns the resolver for contexts without registration, or nil.
func (reg *Registry) Root() *Resolver {
	return reg.root.Load()
}

// Register associates r with the returned context and every context derived
// from it. The registration id is returned, and stored in the context for
// logging as mlog.CidKey.
func (reg *Registry) Register(ctx context.Context, r *Resolver) (context.Context, int64) {
	id := nextCid()
	return reg.register(ctx, r, id), id
}

func (reg *Registry) register(ctx context.Context, r *Resolver, id int64) context.Context {
	key := registryKey{reg}
	parent, _ := ctx.Value(key).(*registration)
	reg.resolvers.Store(id, r)
	ctx = context.WithValue(ctx, key, &registration{id, parent})
	return context.WithValue(ctx, mlog.CidKey, id)
}

// Unregister removes the registration of ctx. Lookups for ctx and contexts
// derived from it return the resolver of the nearest registered ancestor, or
// the root resolver.
func (reg *Registry) Unregister(ctx context.Context) {
	if x, ok := ctx.Value(registryKey{reg}).(*registration); ok {
		reg.resolvers.Delete(x.id)
	}
}

// Lookup returns the resolver registered for ctx, or its nearest registered
// ancestor, or the root resolver. False is returned if there is none.
func (reg *Registry) Lookup(ctx context.Context) (*Resolver, bool) {
	x, _ := ctx.Value(registryKey{reg}).(*registration)
	for ; x != nil; x = x.parent {
		if v, ok := reg.resolvers.Load(x.id); ok {
			return v.(*Resolver), true
		}
	}
	if r := reg.root.Load(); r != nil {
		return r, true
	}
	return nil, false
}

// InitializeCache gives the resolver for ctx a new, empty cache.
func (reg *Registry) InitializeCache(ctx context.Context) error {
	r, ok := reg.Lookup(ctx)
	if !ok {
		return ErrNotRegistered
	}
	r.InitializeCache()
	return nil
}
