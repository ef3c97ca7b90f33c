package replay

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.NewTestLogger()
	require.NoError(t, err)

	return log
}

func memoryFeed(t *testing.T, symbol string, times ...time.Time) *feed.BaseProvider {
	t.Helper()

	p, err := feed.NewBaseProvider(symbol, feed.Granularity{Size: 1, Unit: feed.BarUnitMinute}, "UTC", len(times), nil)
	require.NoError(t, err)

	for _, ts := range times {
		p.Push(types.Bar{
			Time:   ts,
			Close:  float64(ts.Unix()),
			Volume: decimal.NewFromInt(1),
			WAP:    decimal.NewFromFloat(float64(ts.Unix())),
		})
	}

	return p
}

// noRollback simulates a feed that cannot re-queue a fetched bar; the
// synchronizer must keep the bar in its own pending slot instead.
type noRollback struct {
	feed.DataProvider
}

func (noRollback) Rollback() bool { return false }

func TestSynchronizerMergesTwoFeeds(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	s := NewSynchronizer(testLog(t))
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", at(0), at(2), at(4))))
	require.NoError(t, s.AddFeed("B", memoryFeed(t, "B", at(1), at(2), at(3))))
	require.NoError(t, s.Start())

	type row struct {
		time time.Time
		a, b bool
	}
	want := []row{
		{at(0), true, false},
		{at(1), false, true},
		{at(2), true, true},
		{at(3), false, true},
		{at(4), true, false},
	}

	var prev time.Time
	for i, w := range want {
		step := s.Step()
		require.True(t, step.HasResult, "step %d", i)
		assert.Equal(t, w.time, step.CurrentTime, "step %d", i)
		assert.Equal(t, w.a, step.Data["A"].IsSome(), "step %d feed A", i)
		assert.Equal(t, w.b, step.Data["B"].IsSome(), "step %d feed B", i)

		assert.False(t, step.CurrentTime.Before(prev), "timeline must be non-decreasing")
		prev = step.CurrentTime
	}

	assert.False(t, s.Step().HasResult)
	assert.False(t, s.HasMoreData())
}

func TestSynchronizerRollbackUnsupported(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	s := NewSynchronizer(testLog(t))
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", at(0), at(2))))
	require.NoError(t, s.AddFeed("B", noRollback{memoryFeed(t, "B", at(1))}))
	require.NoError(t, s.Start())

	// B's bar at t1 is fetched during the t0 step, cannot be rolled back,
	// and must still be delivered exactly once at t1.
	step := s.Step()
	require.True(t, step.HasResult)
	assert.Equal(t, at(0), step.CurrentTime)
	assert.True(t, step.Data["B"].IsNone())

	step = s.Step()
	require.True(t, step.HasResult)
	assert.Equal(t, at(1), step.CurrentTime)
	assert.True(t, step.Data["B"].IsSome())

	step = s.Step()
	require.True(t, step.HasResult)
	assert.Equal(t, at(2), step.CurrentTime)
	assert.True(t, step.Data["B"].IsNone())
}

func TestSynchronizerBoundaryFlags(t *testing.T) {
	s := NewSynchronizer(testLog(t))
	times := []time.Time{
		time.Date(2024, 3, 1, 23, 58, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 23, 58, 30, 0, time.UTC),
		time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", times...)))
	require.NoError(t, s.Start())

	// No previous step to compare against.
	first := s.Step()
	assert.False(t, first.DayChanged)
	assert.False(t, first.HourChanged)
	assert.False(t, first.MinuteChanged)

	sameMinute := s.Step()
	assert.False(t, sameMinute.DayChanged)
	assert.False(t, sameMinute.HourChanged)
	assert.False(t, sameMinute.MinuteChanged)

	newMinute := s.Step()
	assert.False(t, newMinute.DayChanged)
	assert.False(t, newMinute.HourChanged)
	assert.True(t, newMinute.MinuteChanged)

	// Day boundary cascades to hour and minute.
	newDay := s.Step()
	assert.True(t, newDay.DayChanged)
	assert.True(t, newDay.HourChanged)
	assert.True(t, newDay.MinuteChanged)
}

func TestSynchronizerSteppedMode(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	s := NewSynchronizer(testLog(t))
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", base, base.Add(time.Minute))))
	require.NoError(t, s.Start())
	s.SetReplayMode(feed.ReplayModeStepped)

	results := make(chan StepResult, 1)
	go func() { results <- s.Step() }()

	select {
	case <-results:
		t.Fatal("stepped Step returned without a step signal")
	case <-time.After(50 * time.Millisecond):
	}

	// NextStep must be deliverable while Step is blocked in the fetch.
	s.NextStep()

	select {
	case step := <-results:
		require.True(t, step.HasResult)
		assert.Equal(t, base, step.CurrentTime)
	case <-time.After(2 * time.Second):
		t.Fatal("Step did not return after NextStep")
	}

	// Stop must also go through while a fetch is waiting on the pacer.
	go func() { results <- s.Step() }()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		require.NoError(t, s.Stop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind an in-flight Step")
	}

	select {
	case step := <-results:
		assert.False(t, step.HasResult, "terminated feed yields no bar")
	case <-time.After(2 * time.Second):
		t.Fatal("Step did not observe the terminated feed")
	}
}

func TestSynchronizerRewind(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	s := NewSynchronizer(testLog(t))
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", base, base.Add(time.Minute))))
	require.NoError(t, s.Start())

	s.Step()
	s.Step()
	require.False(t, s.Step().HasResult)

	require.NoError(t, s.Rewind())
	step := s.Step()
	require.True(t, step.HasResult)
	assert.Equal(t, base, step.CurrentTime)
	assert.False(t, step.DayChanged, "rewind clears the previous-time state")
}

func TestSynchronizerDuplicateFeedName(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	s := NewSynchronizer(testLog(t))
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", base)))

	err := s.AddFeed("A", memoryFeed(t, "A", base))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFeedAlreadyExists))
}

func TestSynchronizerStartWithoutFeeds(t *testing.T) {
	s := NewSynchronizer(testLog(t))

	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeReplayNoFeeds))
}

func TestSynchronizerAllReady(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	s := NewSynchronizer(testLog(t))
	assert.False(t, s.AllReady(), "no feeds means not ready")

	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", base)))
	assert.False(t, s.AllReady(), "feed not started yet")

	require.NoError(t, s.Start())
	assert.True(t, s.AllReady())

	require.NoError(t, s.Stop())
	assert.False(t, s.AllReady())
}

func TestSynchronizerRemoveFeed(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	s := NewSynchronizer(testLog(t))
	require.NoError(t, s.AddFeed("A", memoryFeed(t, "A", base)))

	require.NoError(t, s.RemoveFeed("A"))
	assert.Empty(t, s.Feeds())

	err := s.RemoveFeed("A")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFeedNotFound))
}
