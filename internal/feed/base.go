package feed

import (
	"context"
	"sync"

	"github.com/moznion/go-optional"

	"github.com/CasinoHe/quanttrader-sub000/internal/feed/resample"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// BaseProvider carries the replay machinery shared by historical feed
// implementations: the BarLine storage, the pacer, readiness, and the
// DataProvider surface that does not involve loading. Concrete feeds embed
// it and implement PrepareData/StartRequestData/TerminateRequestData.
type BaseProvider struct {
	symbol      string
	granularity Granularity
	timezone    string

	line  *BarLine
	pacer *Pacer
	log   *logger.Logger

	mu     sync.Mutex
	ready  bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBaseProvider validates the timezone and builds an empty provider in
// NORMAL replay mode.
func NewBaseProvider(symbol string, granularity Granularity, timezone string, capacity int, log *logger.Logger) (*BaseProvider, error) {
	if _, err := LoadLocation(timezone); err != nil {
		return nil, err
	}

	return &BaseProvider{
		symbol:      symbol,
		granularity: granularity,
		timezone:    timezone,
		line:        NewBarLine(capacity),
		pacer:       NewPacer(ReplayModeNormal),
		log:         log,
	}, nil
}

// Line exposes the backing BarLine to the embedding feed's loader.
func (p *BaseProvider) Line() *BarLine {
	return p.line
}

// Push stores one loaded bar.
func (p *BaseProvider) Push(bar types.Bar) {
	p.line.Push(bar)
}

// PrepareData is a no-op for providers whose data is already in memory.
func (p *BaseProvider) PrepareData() error {
	return nil
}

// StartRequestData marks the provider ready and arms cancellation for
// blocking Next calls.
func (p *BaseProvider) StartRequestData() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.ready = true

	return nil
}

// TerminateRequestData unblocks any waiting Next and marks the provider not
// ready.
func (p *BaseProvider) TerminateRequestData() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.ready = false

	return nil
}

// IsDataReady reports whether bars may be pulled.
func (p *BaseProvider) IsDataReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ready
}

// Next returns the next bar in time order, pacing according to the replay
// mode. It returns None when the feed is exhausted, not ready, or terminated
// while waiting; a bar consumed by a cancelled wait is rolled back so it is
// never lost.
func (p *BaseProvider) Next() optional.Option[types.Bar] {
	p.mu.Lock()
	ready := p.ready
	ctx := p.ctx
	p.mu.Unlock()

	if !ready || ctx == nil {
		return optional.None[types.Bar]()
	}

	opt := p.line.Next()
	if opt.IsNone() {
		return opt
	}

	bar := opt.Unwrap()
	if err := p.pacer.Wait(ctx, bar.Time); err != nil {
		p.line.Rollback()

		return optional.None[types.Bar]()
	}

	return opt
}

// Rewind resets delivery to the first bar and clears pacing state.
func (p *BaseProvider) Rewind() error {
	p.line.Rewind()
	p.pacer.Reset()

	return nil
}

// Rollback re-queues the most recently delivered bar.
func (p *BaseProvider) Rollback() bool {
	return p.line.Rollback()
}

// Resample derives a ready provider holding the same data aggregated to a
// coarser granularity.
func (p *BaseProvider) Resample(target Granularity) (DataProvider, error) {
	if target.Duration() <= p.granularity.Duration() {
		return nil, errors.Newf(errors.ErrCodeResampleFailed,
			"target granularity %s is not coarser than %s", target, p.granularity)
	}

	bars := resample.Aggregate(p.line.Bars(), target.Duration())

	out, err := NewBaseProvider(p.symbol, target, p.timezone, len(bars), p.log)
	if err != nil {
		return nil, err
	}
	for _, bar := range bars {
		out.Push(bar)
	}
	out.pacer.SetMode(p.pacer.Mode())
	if err := out.StartRequestData(); err != nil {
		return nil, err
	}

	return out, nil
}

// Symbol returns the instrument symbol.
func (p *BaseProvider) Symbol() string {
	return p.symbol
}

// Granularity returns the bar granularity.
func (p *BaseProvider) Granularity() Granularity {
	return p.granularity
}

// Timezone returns the IANA timezone name the feed's timestamps belong to.
func (p *BaseProvider) Timezone() string {
	return p.timezone
}

// SetReplayMode switches pacing for subsequent Next calls.
func (p *BaseProvider) SetReplayMode(mode ReplayMode) {
	p.pacer.SetMode(mode)
}

// NextStep releases one blocked Next in STEPPED mode.
func (p *BaseProvider) NextStep() {
	p.pacer.Step()
}
