package cerebro

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/observer"
	"github.com/CasinoHe/quanttrader-sub000/internal/strategy"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.NewTestLogger()
	require.NoError(t, err)

	return log
}

func memoryFeed(t *testing.T, symbol, tz string, times ...time.Time) *feed.BaseProvider {
	t.Helper()

	p, err := feed.NewBaseProvider(symbol, feed.Granularity{Size: 1, Unit: feed.BarUnitMinute}, tz, len(times), nil)
	require.NoError(t, err)

	for i, ts := range times {
		close := float64(100 + i)
		p.Push(types.Bar{
			Time:   ts,
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: decimal.NewFromInt(1),
			WAP:    decimal.NewFromFloat(close),
		})
	}

	return p
}

// recordingStrategy captures everything the orchestrator delivers.
type recordingStrategy struct {
	strategy.Base

	started    bool
	stopped    int
	steps      int
	seriesLens map[string][]int
	trades     []types.Trade
}

func newRecordingStrategy() *recordingStrategy {
	return &recordingStrategy{seriesLens: make(map[string][]int)}
}

func (r *recordingStrategy) Name() string { return "recording" }

func (r *recordingStrategy) OnStart() error {
	r.started = true

	return nil
}

func (r *recordingStrategy) OnStop() {
	r.stopped++
}

func (r *recordingStrategy) OnDataSeries(series map[string]*types.BarSeries, _, _, _ bool) {
	r.steps++
	for name, s := range series {
		r.seriesLens[name] = append(r.seriesLens[name], s.Len())
	}
}

func (r *recordingStrategy) OnTrade(trade types.Trade) {
	r.trades = append(r.trades, trade)
}

func newTestCerebro(t *testing.T) *Cerebro {
	t.Helper()

	return New(Config{
		BrokerKind:   broker.KindSimulated,
		Broker:       broker.Config{StartingCash: 100_000},
		ReadyTimeout: 5 * time.Second,
	}, broker.DefaultRegistry(), testLog(t))
}

func TestPrepareRequiresStrategies(t *testing.T) {
	c := newTestCerebro(t)

	err := c.Prepare()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoStrategies))
	assert.Equal(t, StateCreated, c.State())
}

func TestPrepareRequiresFeeds(t *testing.T) {
	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())

	err := c.Prepare()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeReplayNoFeeds))
}

func TestPrepareRejectsUnknownBrokerKind(t *testing.T) {
	c := New(Config{BrokerKind: "paper-x"}, broker.DefaultRegistry(), testLog(t))
	c.AddStrategy(newRecordingStrategy())

	err := c.Prepare()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownBrokerKind))
}

func TestPrepareRejectsTimezoneMismatch(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", base)))
	require.NoError(t, c.AddFeed("MSFT", memoryFeed(t, "MSFT", "America/New_York", base)))

	err := c.Prepare()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimezoneMismatch))
}

func TestPrepareIsIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", base)))

	require.NoError(t, c.Prepare())
	assert.Equal(t, StatePrepared, c.State())
	require.NoError(t, c.Prepare())
	assert.Equal(t, StatePrepared, c.State())
}

func TestProcessNextRequiresPrepare(t *testing.T) {
	c := newTestCerebro(t)

	_, err := c.ProcessNext()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCerebroNotPrepared))
}

func TestRunEndToEnd(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Minute) }

	c := newTestCerebro(t)
	rec := newRecordingStrategy()
	c.AddStrategy(rec)

	perf := observer.NewPerformanceObserver(testLog(t))
	c.AddObserver(perf)

	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", at(0), at(2), at(4))))
	require.NoError(t, c.AddFeed("MSFT", memoryFeed(t, "MSFT", "UTC", at(1), at(2), at(3))))

	var steps int
	require.NoError(t, c.Run(context.Background(), RunCallbacks{
		OnStep: func(step int, _ time.Time) { steps = step },
	}))

	assert.Equal(t, StateStopped, c.State())
	assert.NotEmpty(t, c.RunID())

	// Merged timeline: 0,1,2,3,4 with both feeds advancing at t2.
	assert.Equal(t, 5, steps)
	assert.Equal(t, 5, rec.steps)
	assert.True(t, rec.started)
	assert.Equal(t, 1, rec.stopped, "OnStop exactly once")

	aaplLens := rec.seriesLens["AAPL"]
	require.Len(t, aaplLens, 5)
	assert.Equal(t, []int{1, 1, 2, 2, 3}, aaplLens)
	assert.Equal(t, []int{0, 1, 2, 3, 3}, rec.seriesLens["MSFT"])

	assert.Len(t, perf.Curve(), 5)
}

func TestRunRoutesTradesToStrategies(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	c := newTestCerebro(t)
	rec := &tradingStrategy{}
	c.AddStrategy(rec)
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", base, base.Add(time.Minute))))

	require.NoError(t, c.Run(context.Background(), RunCallbacks{}))

	require.Len(t, rec.trades, 1)
	assert.Equal(t, "AAPL", rec.trades[0].Symbol)

	b := c.Broker()
	require.NotNil(t, b)
	assert.Equal(t, 10.0, b.GetPosition("AAPL").Quantity)
}

// tradingStrategy buys once on the first bar it sees.
type tradingStrategy struct {
	strategy.Base

	bought bool
	trades []types.Trade
}

func (s *tradingStrategy) Name() string { return "trading" }

func (s *tradingStrategy) OnDataSeries(series map[string]*types.BarSeries, _, _, _ bool) {
	if s.bought {
		return
	}
	for symbol := range series {
		_, err := s.Broker().PlaceOrder(types.OrderRequest{
			Symbol: symbol, Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: 10,
		})
		if err == nil {
			s.bought = true
		}
	}
}

func (s *tradingStrategy) OnTrade(trade types.Trade) {
	s.trades = append(s.trades, trade)
}

// startFailOnce fails its first start, simulating a transient feed error.
type startFailOnce struct {
	feed.DataProvider

	failed bool
}

func (f *startFailOnce) StartRequestData() error {
	if !f.failed {
		f.failed = true

		return errors.New(errors.ErrCodeFeedStartFailed, "transient start failure")
	}

	return f.DataProvider.StartRequestData()
}

func TestPrepareRetryDeliversTradesOnce(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	c := newTestCerebro(t)
	rec := &tradingStrategy{}
	c.AddStrategy(rec)
	require.NoError(t, c.AddFeed("AAPL", &startFailOnce{
		DataProvider: memoryFeed(t, "AAPL", "UTC", base, base.Add(time.Minute)),
	}))

	err := c.Prepare()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeReplayStartFailed))

	// The retried prepare must not stack a second trade route or observer.
	require.NoError(t, c.Run(context.Background(), RunCallbacks{}))
	assert.Len(t, rec.trades, 1, "each trade delivered exactly once")
}

func TestRunNormalModeDoesNotThrottle(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	times := make([]time.Time, 500)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Minute)
	}

	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", times...)))

	start := time.Now()
	require.NoError(t, c.Run(context.Background(), RunCallbacks{}))
	assert.Less(t, time.Since(start), 450*time.Millisecond, "no per-step yield in NORMAL mode")
}

func TestStopIsIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", base)))

	require.NoError(t, c.Run(context.Background(), RunCallbacks{}))
	assert.Equal(t, StateStopped, c.State())

	c.Stop()
	c.Stop()
	assert.Equal(t, StateStopped, c.State())
}

func TestResampleData(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	times := make([]time.Time, 10)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Minute)
	}

	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", times...)))

	require.NoError(t, c.ResampleData("AAPL", feed.Granularity{Size: 5, Unit: feed.BarUnitMinute}))

	provider, err := c.sync.Provider("AAPL")
	require.NoError(t, err)
	assert.Equal(t, feed.Granularity{Size: 5, Unit: feed.BarUnitMinute}, provider.Granularity())
}

func TestResampleDataRejectedWhileRunning(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	c := New(Config{
		BrokerKind:   broker.KindSimulated,
		Broker:       broker.Config{StartingCash: 100_000},
		ReplayMode:   feed.ReplayModeStepped,
		ReadyTimeout: 5 * time.Second,
	}, broker.DefaultRegistry(), testLog(t))
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", base, base.Add(time.Minute))))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), RunCallbacks{}) }()

	require.Eventually(t, func() bool { return c.State() == StateRunning },
		2*time.Second, 5*time.Millisecond)

	err := c.ResampleData("AAPL", feed.Granularity{Size: 5, Unit: feed.BarUnitMinute})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCerebroRunning))

	c.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestEngineRegistry(t *testing.T) {
	r := DefaultRegistry()
	c := newTestCerebro(t)

	backtest, err := r.Create(KindBacktest, c)
	require.NoError(t, err)
	assert.IsType(t, &BacktestEngine{}, backtest)
	assert.Same(t, c, backtest.Cerebro())

	live, err := r.Create(KindLive, c)
	require.NoError(t, err)
	assert.IsType(t, &LiveEngine{}, live)

	_, err = r.Create("paper", c)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownCerebroKind))
}

func TestLiveEngineStopJoins(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	times := make([]time.Time, 50)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Minute)
	}

	c := newTestCerebro(t)
	c.AddStrategy(newRecordingStrategy())
	require.NoError(t, c.AddFeed("AAPL", memoryFeed(t, "AAPL", "UTC", times...)))

	engine := NewLiveEngine(c)
	require.NoError(t, engine.Run(context.Background(), RunCallbacks{}))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, engine.Stop())
	assert.Equal(t, StateStopped, c.State())
}
