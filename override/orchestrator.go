package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mjl-/hostoverride/mlog"
	"github.com/mjl-/hostoverride/stub"
)

var ErrContextStartup = errors.New("override: context failed to start")

var (
	MetricContext         stub.CounterVec = stub.CounterVecIgnore{} // Label result: started, failed, panic.
	MetricContextsRunning stub.Gauge      = stub.GaugeIgnore{}
)

// Orchestrator runs work in isolated contexts, each with its own Configuration
// and Resolver.
type Orchestrator struct {
	registry *Registry
	opts     Options
	log      mlog.Log
	sem      *semaphore.Weighted // Nil for no limit.
	wg       sync.WaitGroup
}

// NewOrchestrator returns an orchestrator registering the resolvers of its
// contexts in reg. Resolvers are created with opts. If opts.MaxContexts is > 0,
// at most that many contexts run at the same time, others wait for a slot.
func NewOrchestrator(reg *Registry, opts Options) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		opts:     opts,
		log:      mlog.New("override", opts.Log),
	}
	if opts.MaxContexts > 0 {
		o.sem = semaphore.NewWeighted(int64(opts.MaxContexts))
	}
	return o
}

// Execution is a context started by Execute.
type Execution struct {
	cid  int64
	done chan struct{}
	err  error
}

// Cid returns the id of the context, as logged in field "cid" and stored in the
// context under mlog.CidKey.
func (x *Execution) Cid() int64 {
	return x.cid
}

// Done returns a channel that is closed when the context has finished.
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Wait waits for the context to finish. It returns an error wrapping
// ErrContextStartup if the context could not be set up, the error of a
// panic in work, or the error returned by work.
func (x *Execution) Wait() error {
	<-x.done
	return x.err
}

// Execute runs work in a new goroutine, in a context derived from ctx. Before
// work runs, a Resolver is created for config, registered for the context, its
// cache initialized and config validated. If any of that fails, work is not
// run, and the failure is logged and returned by Wait. Goroutines started by
// work that are passed the context use the same Resolver and cache.
func (o *Orchestrator) Execute(ctx context.Context, config *Configuration, work func(ctx context.Context) error) *Execution {
	x := &Execution{cid: nextCid(), done: make(chan struct{})}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(x.done)
		x.err = o.run(ctx, x.cid, config, work)
	}()
	return x
}

// Wait waits for all contexts started with Execute to finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, id int64, config *Configuration, work func(ctx context.Context) error) (rerr error) {
	log := o.log.WithCid(id)
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			MetricContext.IncLabels("failed")
			log.Errorx("context failed to start", err)
			return fmt.Errorf("%w: waiting for slot: %w", ErrContextStartup, err)
		}
		defer o.sem.Release(1)
	}

	r := NewResolver(config, o.opts)
	ctx = o.registry.register(ctx, r, id)
	defer o.registry.Unregister(ctx)

	err := o.registry.InitializeCache(ctx)
	if err == nil {
		err = r.Validate()
	}
	if err != nil {
		MetricContext.IncLabels("failed")
		log.Errorx("context failed to start", err)
		return fmt.Errorf("%w: %w", ErrContextStartup, err)
	}

	MetricContext.IncLabels("started")
	MetricContextsRunning.Inc()
	defer MetricContextsRunning.Dec()
	log.Debug("context started", slog.Int("mappings", len(r.Configuration().Mappings())))

	defer func() {
		x := recover()
		if x == nil {
			return
		}
		MetricContext.IncLabels("panic")
		log.Error("unhandled panic in context", slog.Any("panic", x))
		debug.PrintStack()
		rerr = fmt.Errorf("override: panic in context: %v", x)
	}()

	err = work(ctx)
	log.Debugx("context finished", err)
	return err
}
