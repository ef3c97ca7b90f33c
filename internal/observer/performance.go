package observer

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time `yaml:"time"`
	Equity float64   `yaml:"equity"`
}

// Summary is the run report serialized by WriteReport.
type Summary struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
	Steps int       `yaml:"steps"`

	FinalEquity   float64 `yaml:"final_equity"`
	FinalCash     float64 `yaml:"final_cash"`
	RealizedPnL   float64 `yaml:"realized_pnl"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl"`

	GrossProfit     float64 `yaml:"gross_profit"`
	GrossLoss       float64 `yaml:"gross_loss"`
	RoundTrips      int     `yaml:"round_trips"`
	TotalCommission float64 `yaml:"total_commission"`

	MaxDrawdown        float64 `yaml:"max_drawdown"`
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent"`
}

// PerformanceObserver tracks the equity curve and drawdown during a run and
// reconstructs gross profit/loss from the broker's trade history.
type PerformanceObserver struct {
	log *logger.Logger

	mu     sync.Mutex
	broker broker.Broker
	loc    *time.Location

	curve       []EquityPoint
	peak        float64
	maxDrawdown float64
	maxDDPct    float64
}

// NewPerformanceObserver creates an observer with an empty curve.
func NewPerformanceObserver(log *logger.Logger) *PerformanceObserver {
	return &PerformanceObserver{log: log, loc: time.UTC}
}

// SetBroker implements Observer.
func (o *PerformanceObserver) SetBroker(b broker.Broker) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.broker = b
}

// SetTimezone implements Observer; report timestamps are rendered in this
// zone.
func (o *PerformanceObserver) SetTimezone(tz string) error {
	loc, err := feed.LoadLocation(tz)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.loc = loc

	return nil
}

// UpdateMarketValue samples the account equity and updates peak/drawdown.
func (o *PerformanceObserver) UpdateMarketValue(ts time.Time, prices map[string]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.broker == nil {
		return
	}

	equity := o.broker.GetAccountInfo().Equity
	o.curve = append(o.curve, EquityPoint{Time: ts, Equity: equity})

	if equity > o.peak {
		o.peak = equity
	}
	if dd := o.peak - equity; dd > o.maxDrawdown {
		o.maxDrawdown = dd
		if o.peak > 0 {
			o.maxDDPct = dd / o.peak * 100
		}
	}
}

// Curve returns a snapshot of the equity curve.
func (o *PerformanceObserver) Curve() []EquityPoint {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]EquityPoint, len(o.curve))
	copy(out, o.curve)

	return out
}

// Report logs the run summary.
func (o *PerformanceObserver) Report() error {
	summary, err := o.Summarize()
	if err != nil {
		return err
	}

	o.log.Info("performance report",
		zap.Time("start", summary.Start),
		zap.Time("end", summary.End),
		zap.Int("steps", summary.Steps),
		zap.Float64("final_equity", summary.FinalEquity),
		zap.Float64("final_cash", summary.FinalCash),
		zap.Float64("realized_pnl", summary.RealizedPnL),
		zap.Float64("unrealized_pnl", summary.UnrealizedPnL),
		zap.Float64("gross_profit", summary.GrossProfit),
		zap.Float64("gross_loss", summary.GrossLoss),
		zap.Int("round_trips", summary.RoundTrips),
		zap.Float64("total_commission", summary.TotalCommission),
		zap.Float64("max_drawdown", summary.MaxDrawdown),
		zap.Float64("max_drawdown_percent", summary.MaxDrawdownPercent))

	return nil
}

// Summarize builds the run summary from the equity curve and the broker's
// trade history.
func (o *PerformanceObserver) Summarize() (Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.broker == nil {
		return Summary{}, errors.New(errors.ErrCodeObserverReportFailed, "observer has no broker")
	}

	account := o.broker.GetAccountInfo()

	summary := Summary{
		Steps:         len(o.curve),
		FinalEquity:   account.Equity,
		FinalCash:     account.Cash,
		RealizedPnL:   account.RealizedPnL,
		UnrealizedPnL: account.UnrealizedPnL,
		MaxDrawdown:   o.maxDrawdown,
	}
	summary.MaxDrawdownPercent = o.maxDDPct
	if len(o.curve) > 0 {
		summary.Start = o.curve[0].Time.In(o.loc)
		summary.End = o.curve[len(o.curve)-1].Time.In(o.loc)
	}

	// Replay trades through fresh positions to split realized P&L into
	// gross profit and gross loss per closing trade.
	positions := make(map[string]*types.Position)
	for _, trade := range o.broker.GetTrades() {
		summary.TotalCommission += trade.Commission

		pos, ok := positions[trade.Symbol]
		if !ok {
			pos = &types.Position{Symbol: trade.Symbol}
			positions[trade.Symbol] = pos
		}

		realized := pos.ApplyFill(trade.Side, trade.Quantity, trade.Price)
		switch {
		case realized > 0:
			summary.GrossProfit += realized
			summary.RoundTrips++
		case realized < 0:
			summary.GrossLoss += -realized
			summary.RoundTrips++
		}
	}

	return summary, nil
}

// WriteReport serializes the summary as YAML.
func (o *PerformanceObserver) WriteReport(w io.Writer) error {
	summary, err := o.Summarize()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return errors.Wrap(errors.ErrCodeObserverReportFailed, "marshal performance summary", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(errors.ErrCodeObserverReportFailed, "write performance summary", err)
	}

	return nil
}
