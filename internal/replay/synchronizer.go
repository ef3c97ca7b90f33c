// Package replay merges independently paced feeds into one globally ordered
// timeline.
package replay

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// StepResult is the outcome of one synchronized step. Data holds one entry
// per registered feed: Some for feeds that advanced at CurrentTime, None for
// feeds that were deferred or are exhausted. HasResult is false when every
// feed is exhausted.
type StepResult struct {
	Data        map[string]optional.Option[types.Bar]
	CurrentTime time.Time

	DayChanged    bool
	HourChanged   bool
	MinuteChanged bool

	HasResult bool
}

type feedState struct {
	provider  feed.DataProvider
	pending   optional.Option[types.Bar]
	exhausted bool
}

// Synchronizer presents N feeds as a single monotonic timeline with
// exactly-once bar delivery. Feeds strictly ahead of the step's minimum
// timestamp are deferred, never dropped: the synchronizer asks the feed to
// roll the bar back, and keeps it in its own pending slot when the feed
// reports rollback unsupported.
type Synchronizer struct {
	log *logger.Logger

	// stepMu serializes Step callers. s.mu guards the feed tables and is
	// never held across a blocking provider fetch, so NextStep and Stop
	// stay callable while a stepped or realtime feed is waiting.
	stepMu sync.Mutex

	mu      sync.Mutex
	feeds   map[string]*feedState
	order   []string
	loc     *time.Location
	prev    time.Time
	hasPrev bool
	started bool
}

// NewSynchronizer creates an empty synchronizer.
func NewSynchronizer(log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		log:   log,
		feeds: make(map[string]*feedState),
	}
}

// AddFeed registers a provider under a unique name.
func (s *Synchronizer) AddFeed(name string, provider feed.DataProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[name]; ok {
		return errors.Newf(errors.ErrCodeFeedAlreadyExists, "feed %q is already registered", name)
	}

	s.feeds[name] = &feedState{provider: provider, pending: optional.None[types.Bar]()}
	s.order = append(s.order, name)

	return nil
}

// RemoveFeed unregisters a feed by name.
func (s *Synchronizer) RemoveFeed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[name]; !ok {
		return errors.Newf(errors.ErrCodeFeedNotFound, "feed %q is not registered", name)
	}

	delete(s.feeds, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}

	return nil
}

// Feeds returns the registered feed names in registration order.
func (s *Synchronizer) Feeds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.order))
	copy(out, s.order)

	return out
}

// Provider returns the registered provider for a feed name.
func (s *Synchronizer) Provider(name string) (feed.DataProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.feeds[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeFeedNotFound, "feed %q is not registered", name)
	}

	return state.provider, nil
}

// ReplaceFeed swaps the provider registered under name, clearing its replay
// state. Used when a feed is exchanged for its resampled derivative.
func (s *Synchronizer) ReplaceFeed(name string, provider feed.DataProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.feeds[name]
	if !ok {
		return errors.Newf(errors.ErrCodeFeedNotFound, "feed %q is not registered", name)
	}

	state.provider = provider
	state.pending = optional.None[types.Bar]()
	state.exhausted = false

	return nil
}

// Start prepares and starts every feed. One feed failing does not abort the
// others, but any failure makes Start report overall failure.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.feeds) == 0 {
		return errors.New(errors.ErrCodeReplayNoFeeds, "no feeds registered")
	}

	var failed []string
	for _, name := range s.order {
		state := s.feeds[name]

		if err := state.provider.PrepareData(); err != nil {
			s.log.Error("feed failed to prepare", zap.String("feed", name), zap.Error(err))
			failed = append(failed, name)

			continue
		}
		if err := state.provider.StartRequestData(); err != nil {
			s.log.Error("feed failed to start", zap.String("feed", name), zap.Error(err))
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return errors.Newf(errors.ErrCodeReplayStartFailed, "feeds failed to start: %v", failed)
	}

	// Boundary flags are computed in the feeds' shared timezone.
	loc, err := feed.LoadLocation(s.feeds[s.order[0]].provider.Timezone())
	if err != nil {
		return err
	}
	s.loc = loc
	s.started = true

	return nil
}

// Stop terminates every feed. Per-feed failures are logged and the first
// one is returned.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, name := range s.order {
		if err := s.feeds[name].provider.TerminateRequestData(); err != nil {
			s.log.Error("feed failed to stop", zap.String("feed", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.started = false

	return firstErr
}

// SetReplayMode propagates the replay mode to every feed.
func (s *Synchronizer) SetReplayMode(mode feed.ReplayMode) {
	for _, provider := range s.providers() {
		provider.SetReplayMode(mode)
	}
}

// NextStep releases one blocked fetch on every feed in STEPPED mode. It must
// not wait on in-flight steps, so the providers are signalled outside s.mu.
func (s *Synchronizer) NextStep() {
	for _, provider := range s.providers() {
		provider.NextStep()
	}
}

func (s *Synchronizer) providers() []feed.DataProvider {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]feed.DataProvider, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.feeds[name].provider)
	}

	return out
}

// Rewind resets every feed to its first bar and clears all pending state.
func (s *Synchronizer) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		if err := s.feeds[name].provider.Rewind(); err != nil {
			return errors.Wrapf(errors.ErrCodeFeedStartFailed, err, "rewind feed %q", name)
		}

		state := s.feeds[name]
		state.pending = optional.None[types.Bar]()
		state.exhausted = false
	}
	s.hasPrev = false

	return nil
}

// AllReady reports whether there is at least one feed and every feed
// reports ready.
func (s *Synchronizer) AllReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.feeds) == 0 {
		return false
	}
	for _, state := range s.feeds {
		if !state.provider.IsDataReady() {
			return false
		}
	}

	return true
}

// HasMoreData reports whether any feed can still contribute a bar.
func (s *Synchronizer) HasMoreData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.feeds {
		if !state.exhausted || state.pending.IsSome() {
			return true
		}
	}

	return false
}

// Step produces one synchronized step: every feed holding the minimum
// pending timestamp advances together, feeds strictly ahead are deferred.
// CurrentTime is non-decreasing across calls until Rewind.
func (s *Synchronizer) Step() StepResult {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	type fetch struct {
		name     string
		provider feed.DataProvider
	}

	s.mu.Lock()
	fetches := make([]fetch, 0, len(s.order))
	for _, name := range s.order {
		state := s.feeds[name]
		if state.exhausted || state.pending.IsSome() {
			continue
		}
		fetches = append(fetches, fetch{name: name, provider: state.provider})
	}
	s.mu.Unlock()

	// Top up pending slots. Next may block on the feed's pacer, so s.mu is
	// not held here.
	fetched := make(map[string]optional.Option[types.Bar], len(fetches))
	for _, f := range fetches {
		fetched[f.name] = f.provider.Next()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fetches {
		state, ok := s.feeds[f.name]
		if !ok {
			continue
		}
		if next := fetched[f.name]; next.IsSome() {
			state.pending = next
		} else {
			state.exhausted = true
		}
	}

	var (
		minTime time.Time
		found   bool
	)
	for _, state := range s.feeds {
		if state.pending.IsNone() {
			continue
		}
		t := state.pending.Unwrap().Time
		if !found || t.Before(minTime) {
			minTime = t
			found = true
		}
	}
	if !found {
		return StepResult{HasResult: false}
	}

	result := StepResult{
		Data:        make(map[string]optional.Option[types.Bar], len(s.feeds)),
		CurrentTime: minTime,
		HasResult:   true,
	}

	for _, name := range s.order {
		state := s.feeds[name]
		if state.pending.IsNone() {
			result.Data[name] = optional.None[types.Bar]()

			continue
		}

		bar := state.pending.Unwrap()
		if bar.Time.Equal(minTime) {
			result.Data[name] = state.pending
			state.pending = optional.None[types.Bar]()

			continue
		}

		// Feed is ahead of this step. Prefer handing the bar back to the
		// feed; keep it in our pending slot when the feed cannot roll back.
		result.Data[name] = optional.None[types.Bar]()
		if state.provider.Rollback() {
			state.pending = optional.None[types.Bar]()
		}
	}

	result.DayChanged, result.HourChanged, result.MinuteChanged = s.boundaries(minTime)
	s.prev = minTime
	s.hasPrev = true

	return result
}

// boundaries compares the previous global time's calendar bucket to the new
// one. A day change implies hour and minute changes, an hour change implies
// a minute change. With no previous step to compare against, the first step
// of a replay reports no changes.
func (s *Synchronizer) boundaries(cur time.Time) (day, hour, minute bool) {
	if !s.hasPrev {
		return false, false, false
	}

	loc := s.loc
	if loc == nil {
		loc = time.UTC
	}

	p := s.prev.In(loc)
	c := cur.In(loc)

	day = p.Year() != c.Year() || p.YearDay() != c.YearDay()
	hour = day || p.Hour() != c.Hour()
	minute = hour || p.Minute() != c.Minute()

	return day, hour, minute
}
