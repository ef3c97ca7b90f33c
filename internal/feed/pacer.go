package feed

import (
	"context"
	"sync"
	"time"
)

// MaxRealtimeSleep caps the wall-clock wait between bars in REALTIME mode so
// sparse data cannot stall a replay indefinitely.
const MaxRealtimeSleep = 10 * time.Second

// Pacer implements the replay pacing shared by feed implementations.
//
// In STEPPED mode it is a single-slot rendezvous between one external
// stepper and one feed consumer: Step queues at most one release, Wait
// consumes it. Exactly one goroutine may block in Wait per Pacer; the
// rendezvous does not fan out to multiple waiters.
type Pacer struct {
	mu   sync.Mutex
	mode ReplayMode
	prev time.Time

	step chan struct{}
}

// NewPacer creates a pacer in the given mode.
func NewPacer(mode ReplayMode) *Pacer {
	return &Pacer{
		mode: mode,
		step: make(chan struct{}, 1),
	}
}

// SetMode switches the pacing mode for subsequent Wait calls.
func (p *Pacer) SetMode(mode ReplayMode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mode = mode
}

// Mode returns the current pacing mode.
func (p *Pacer) Mode() ReplayMode {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.mode
}

// Step releases one pending or future Wait in STEPPED mode. Extra signals
// beyond the single slot are dropped.
func (p *Pacer) Step() {
	select {
	case p.step <- struct{}{}:
	default:
	}
}

// Reset clears pacing state before a rewind: the previous bar timestamp and
// any queued step signal.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.prev = time.Time{}
	p.mu.Unlock()

	select {
	case <-p.step:
	default:
	}
}

// Wait blocks according to the replay mode before the bar stamped barTime is
// delivered. It returns ctx.Err if the context is cancelled while waiting.
func (p *Pacer) Wait(ctx context.Context, barTime time.Time) error {
	p.mu.Lock()
	mode := p.mode
	prev := p.prev
	p.prev = barTime
	p.mu.Unlock()

	switch mode {
	case ReplayModeRealtime:
		if prev.IsZero() {
			return nil
		}

		delta := barTime.Sub(prev)
		if delta <= 0 {
			return nil
		}
		if delta > MaxRealtimeSleep {
			delta = MaxRealtimeSleep
		}

		timer := time.NewTimer(delta)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case ReplayModeStepped:
		select {
		case <-p.step:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return nil
	}
}
