package cerebro

import (
	"context"
	"sync"

	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

const (
	// KindBacktest runs the loop on the caller's goroutine.
	KindBacktest = "backtest"
	// KindLive runs the loop on a worker goroutine; Stop joins it.
	KindLive = "live"
)

// Engine is the closed surface over the orchestrator kinds: a backtest
// engine that blocks the caller for the whole run, and a live engine whose
// Run returns immediately while a worker drives the loop.
type Engine interface {
	Prepare() error
	Run(ctx context.Context, cb RunCallbacks) error
	// Stop ends the run; for the live kind it blocks until the worker has
	// joined and returns the worker's run error.
	Stop() error
	Cerebro() *Cerebro
}

// BacktestEngine drives the whole run on the caller's goroutine.
type BacktestEngine struct {
	cerebro *Cerebro
}

// NewBacktestEngine wraps an orchestrator in the backtest kind.
func NewBacktestEngine(c *Cerebro) *BacktestEngine {
	return &BacktestEngine{cerebro: c}
}

// Prepare implements Engine.
func (e *BacktestEngine) Prepare() error {
	return e.cerebro.Prepare()
}

// Run implements Engine; it returns when the replay is exhausted or stopped.
func (e *BacktestEngine) Run(ctx context.Context, cb RunCallbacks) error {
	return e.cerebro.Run(ctx, cb)
}

// Stop implements Engine.
func (e *BacktestEngine) Stop() error {
	e.cerebro.Stop()

	return nil
}

// Cerebro implements Engine.
func (e *BacktestEngine) Cerebro() *Cerebro {
	return e.cerebro
}

// LiveEngine drives the loop on a worker goroutine so the caller stays
// responsive; the creating goroutine joins the worker during Stop. A step
// in flight always completes before the worker exits.
type LiveEngine struct {
	cerebro *Cerebro

	mu     sync.Mutex
	wg     sync.WaitGroup
	runErr error
}

// NewLiveEngine wraps an orchestrator in the live kind.
func NewLiveEngine(c *Cerebro) *LiveEngine {
	return &LiveEngine{cerebro: c}
}

// Prepare implements Engine.
func (e *LiveEngine) Prepare() error {
	return e.cerebro.Prepare()
}

// Run implements Engine: it prepares synchronously, then starts the worker
// and returns.
func (e *LiveEngine) Run(ctx context.Context, cb RunCallbacks) error {
	if err := e.cerebro.Prepare(); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		err := e.cerebro.Run(ctx, cb)

		e.mu.Lock()
		e.runErr = err
		e.mu.Unlock()
	}()

	return nil
}

// Stop implements Engine: it requests the loop to exit and joins the
// worker.
func (e *LiveEngine) Stop() error {
	e.cerebro.Stop()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.runErr
}

// Cerebro implements Engine.
func (e *LiveEngine) Cerebro() *Cerebro {
	return e.cerebro
}

// EngineConstructor builds an engine kind around an orchestrator.
type EngineConstructor func(c *Cerebro) Engine

// Registry maps engine kind names to constructors; built explicitly in the
// composition root.
type Registry struct {
	constructors map[string]EngineConstructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]EngineConstructor)}
}

// Register binds a kind name to a constructor.
func (r *Registry) Register(kind string, c EngineConstructor) {
	r.constructors[kind] = c
}

// Create builds the engine registered under kind.
func (r *Registry) Create(kind string, c *Cerebro) (Engine, error) {
	ctor, ok := r.constructors[kind]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownCerebroKind, "unknown cerebro kind %q", kind)
	}

	return ctor(c), nil
}

// DefaultRegistry returns a registry with the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindBacktest, func(c *Cerebro) Engine { return NewBacktestEngine(c) })
	r.Register(KindLive, func(c *Cerebro) Engine { return NewLiveEngine(c) })

	return r
}
