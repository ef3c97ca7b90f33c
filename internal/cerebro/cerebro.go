// Package cerebro contains the orchestrator: it owns the broker, the replay
// synchronizer and the strategy/observer lists, and drives the
// prepare/run/stop lifecycle.
package cerebro

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/observer"
	"github.com/CasinoHe/quanttrader-sub000/internal/replay"
	"github.com/CasinoHe/quanttrader-sub000/internal/strategy"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StatePrepared State = "prepared"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

const (
	defaultReadyTimeout = 30 * time.Second
	readyPollInterval   = 10 * time.Millisecond

	// stepYield bounds CPU usage between steps in wall-clock-paced modes.
	stepYield = time.Millisecond
)

// Config carries the orchestration knobs.
type Config struct {
	// BrokerKind selects the broker constructor when no broker is supplied
	// explicitly.
	BrokerKind string
	Broker     broker.Config

	ReplayMode   feed.ReplayMode
	ReadyTimeout time.Duration
}

// RunCallbacks are optional per-run hooks: OnStep fires after every
// processed step, OnRunEnd once when the loop exits.
type RunCallbacks struct {
	OnStep   func(step int, ts time.Time)
	OnRunEnd func(runID string)
}

// Cerebro routes synchronized bars to strategies, prices to the broker and
// mark-to-market updates to observers. The main loop is single-threaded;
// the cached per-feed BarSeries map is mutated only by that loop and read
// by strategies during their synchronous callback window.
type Cerebro struct {
	log      *logger.Logger
	cfg      Config
	registry *broker.Registry

	mu         sync.Mutex
	state      State
	runID      string
	broker     broker.Broker
	wired      bool
	strategies []strategy.Strategy
	observers  []observer.Observer
	reported   bool

	sync   *replay.Synchronizer
	series map[string]*types.BarSeries

	stopFlag atomic.Bool
}

// New creates an orchestrator in the created state.
func New(cfg Config, registry *broker.Registry, log *logger.Logger) *Cerebro {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ReplayMode == "" {
		cfg.ReplayMode = feed.ReplayModeNormal
	}
	if cfg.BrokerKind == "" {
		cfg.BrokerKind = broker.KindSimulated
	}

	return &Cerebro{
		log:      log,
		cfg:      cfg,
		registry: registry,
		state:    StateCreated,
		sync:     replay.NewSynchronizer(log),
		series:   make(map[string]*types.BarSeries),
	}
}

// State returns the lifecycle state.
func (c *Cerebro) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RunID returns the identifier of the current or most recent run.
func (c *Cerebro) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.runID
}

// AddFeed registers a data provider under a unique name.
func (c *Cerebro) AddFeed(name string, provider feed.DataProvider) error {
	return c.sync.AddFeed(name, provider)
}

// AddStrategy registers a strategy. At least one is required to prepare.
func (c *Cerebro) AddStrategy(s strategy.Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strategies = append(c.strategies, s)
}

// AddObserver registers an observer.
func (c *Cerebro) AddObserver(o observer.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, o)
}

// SetBroker supplies the broker explicitly, bypassing lazy construction.
func (c *Cerebro) SetBroker(b broker.Broker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broker = b
	c.wired = false
}

// Broker returns the broker, which exists only after Prepare unless
// supplied explicitly.
func (c *Cerebro) Broker() broker.Broker {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.broker
}

// NextStep releases one blocked fetch on every feed in STEPPED mode.
func (c *Cerebro) NextStep() {
	c.sync.NextStep()
}

// ResampleData swaps the named feed for a derivative of itself at a coarser
// granularity, clearing the feed's cached series. It is a setup-time
// operation: the run loop reads the series cache without coordination, so a
// running engine rejects the swap.
func (c *Cerebro) ResampleData(name string, target feed.Granularity) error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()

		return errors.New(errors.ErrCodeCerebroRunning, "cannot resample while running")
	}
	c.mu.Unlock()

	provider, err := c.sync.Provider(name)
	if err != nil {
		return err
	}

	resampled, err := provider.Resample(target)
	if err != nil {
		return err
	}

	if err := c.sync.ReplaceFeed(name, resampled); err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.series[name]; ok {
		c.series[name] = types.NewBarSeries(0)
	}
	c.mu.Unlock()

	return nil
}

// Prepare validates preconditions, builds the broker if absent, wires it to
// strategies and observers, starts every feed, checks timezone consistency
// and waits for readiness. It is idempotent: a prepared or running engine
// returns success immediately.
func (c *Cerebro) Prepare() error {
	c.mu.Lock()
	if c.state == StatePrepared || c.state == StateRunning {
		c.mu.Unlock()

		return nil
	}

	if len(c.strategies) == 0 {
		c.mu.Unlock()

		return errors.New(errors.ErrCodeNoStrategies, "no strategies registered")
	}

	if c.broker == nil {
		b, err := c.registry.Create(c.cfg.BrokerKind, c.cfg.Broker, c.log)
		if err != nil {
			c.mu.Unlock()

			return err
		}
		c.broker = b
	}

	b := c.broker
	strategies := append([]strategy.Strategy(nil), c.strategies...)
	observers := append([]observer.Observer(nil), c.observers...)
	wired := c.wired
	c.wired = true
	c.mu.Unlock()

	// Wire once per broker instance. A retried Prepare after a feed-start
	// or readiness failure must not stack observers or trade routes.
	if !wired {
		for _, s := range strategies {
			s.SetBroker(b)
			for _, o := range observers {
				s.AddObserver(o)
			}
		}
		for _, o := range observers {
			o.SetBroker(b)
		}

		// Route executions back to every strategy.
		b.OnTrade(func(trade types.Trade) {
			for _, s := range strategies {
				s.OnTrade(trade)
			}
		})
	}

	c.sync.SetReplayMode(c.cfg.ReplayMode)

	if err := c.sync.Start(); err != nil {
		return err
	}

	tz, err := c.checkTimezones()
	if err != nil {
		return err
	}
	for _, o := range observers {
		if err := o.SetTimezone(tz); err != nil {
			return err
		}
	}

	if err := c.waitReady(); err != nil {
		return err
	}

	for _, s := range strategies {
		if err := s.OnStart(); err != nil {
			return errors.Wrapf(errors.ErrCodeStrategyStartFailed, err, "strategy %q failed to start", s.Name())
		}
	}

	c.mu.Lock()
	c.series = make(map[string]*types.BarSeries, len(c.sync.Feeds()))
	for _, name := range c.sync.Feeds() {
		c.series[name] = types.NewBarSeries(0)
	}
	c.state = StatePrepared
	c.mu.Unlock()

	c.log.Info("cerebro prepared",
		zap.Int("feeds", len(c.sync.Feeds())),
		zap.Int("strategies", len(strategies)),
		zap.String("replay_mode", string(c.cfg.ReplayMode)))

	return nil
}

// checkTimezones enforces a single timezone across feeds so cross-feed
// timestamp comparison is meaningful.
func (c *Cerebro) checkTimezones() (string, error) {
	names := c.sync.Feeds()
	if len(names) == 0 {
		return "", errors.New(errors.ErrCodeNoFeeds, "no feeds registered")
	}

	var tz string
	for i, name := range names {
		provider, err := c.sync.Provider(name)
		if err != nil {
			return "", err
		}
		if i == 0 {
			tz = provider.Timezone()

			continue
		}
		if provider.Timezone() != tz {
			return "", errors.Newf(errors.ErrCodeTimezoneMismatch,
				"feed %q timezone %q differs from %q", name, provider.Timezone(), tz)
		}
	}

	return tz, nil
}

func (c *Cerebro) waitReady() error {
	deadline := time.Now().Add(c.cfg.ReadyTimeout)
	for !c.sync.AllReady() {
		if time.Now().After(deadline) {
			return errors.Newf(errors.ErrCodeDataReadyTimeout,
				"feeds not ready after %s", c.cfg.ReadyTimeout)
		}
		time.Sleep(readyPollInterval)
	}

	return nil
}

// ProcessNext pulls one synchronized step and routes it: series cache
// first, then strategies, then broker prices and pending-order evaluation,
// then observers. It returns false when no more data is available.
func (c *Cerebro) ProcessNext() (bool, error) {
	c.mu.Lock()
	state := c.state
	b := c.broker
	strategies := append([]strategy.Strategy(nil), c.strategies...)
	observers := append([]observer.Observer(nil), c.observers...)
	series := c.series
	c.mu.Unlock()

	if state != StatePrepared && state != StateRunning {
		return false, errors.Newf(errors.ErrCodeCerebroNotPrepared, "cerebro is %s, prepare it first", state)
	}

	step := c.sync.Step()
	if !step.HasResult {
		return false, nil
	}

	prices := make(map[string]float64)
	for name, opt := range step.Data {
		if opt.IsNone() {
			continue
		}

		bar := opt.Unwrap()
		series[name].Append(bar)

		provider, err := c.sync.Provider(name)
		if err != nil {
			return false, err
		}
		prices[provider.Symbol()] = bar.Close
	}

	for _, s := range strategies {
		s.OnDataSeries(series, step.DayChanged, step.HourChanged, step.MinuteChanged)
	}

	b.ProcessMarketData(step.CurrentTime, prices)

	for _, o := range observers {
		o.UpdateMarketValue(step.CurrentTime, prices)
	}

	return true, nil
}

// Run prepares the engine and loops over ProcessNext until data runs out,
// Stop is called or ctx is cancelled. On exit it calls OnStop on every
// strategy and Report on every observer, exactly once per run.
func (c *Cerebro) Run(ctx context.Context, cb RunCallbacks) error {
	if err := c.Prepare(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()

		return errors.New(errors.ErrCodeCerebroRunning, "cerebro is already running")
	}
	c.state = StateRunning
	c.runID = uuid.NewString()
	c.reported = false
	runID := c.runID
	c.mu.Unlock()

	c.stopFlag.Store(false)
	c.log.Info("run started", zap.String("run_id", runID))

	var runErr error
	steps := 0

	for {
		if c.stopFlag.Load() {
			break
		}
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
		default:
		}
		if runErr != nil {
			break
		}

		ok, err := c.ProcessNext()
		if err != nil {
			runErr = err

			break
		}
		if !ok {
			break
		}

		steps++
		if cb.OnStep != nil {
			cb.OnStep(steps, timeOfLastStep(c))
		}

		// Yield only in wall-clock-paced modes; NORMAL replays at full speed.
		if c.cfg.ReplayMode != feed.ReplayModeNormal {
			time.Sleep(stepYield)
		}
	}

	c.finish(runID, steps, cb)

	return runErr
}

// Stop requests the loop to exit after the step in flight completes. It is
// idempotent; stopping a stopped engine is a no-op.
func (c *Cerebro) Stop() {
	c.stopFlag.Store(true)
	c.sync.NextStep()
}

func (c *Cerebro) finish(runID string, steps int, cb RunCallbacks) {
	c.mu.Lock()
	strategies := append([]strategy.Strategy(nil), c.strategies...)
	observers := append([]observer.Observer(nil), c.observers...)
	reported := c.reported
	c.reported = true
	c.state = StateStopped
	c.mu.Unlock()

	for _, s := range strategies {
		s.OnStop()
	}

	if !reported {
		for _, o := range observers {
			if err := o.Report(); err != nil {
				c.log.Error("observer report failed", zap.Error(err))
			}
		}
	}

	if err := c.sync.Stop(); err != nil {
		c.log.Error("synchronizer stop failed", zap.Error(err))
	}

	if cb.OnRunEnd != nil {
		cb.OnRunEnd(runID)
	}

	c.log.Info("run finished", zap.String("run_id", runID), zap.Int("steps", steps))
}

func timeOfLastStep(c *Cerebro) time.Time {
	// Best effort: the latest bar time across cached series.
	c.mu.Lock()
	defer c.mu.Unlock()

	var latest time.Time
	for _, s := range c.series {
		if last := s.Last(); last.IsSome() {
			if t := last.Unwrap().Time; t.After(latest) {
				latest = t
			}
		}
	}

	return latest
}
