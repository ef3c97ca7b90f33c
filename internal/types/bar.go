package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV sample produced by a data feed. A Bar is immutable
// once produced; feeds hand out copies, never shared references.
type Bar struct {
	// Time is the bar's start time. Comparison between feeds uses the
	// nanosecond epoch value.
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	// Volume and WAP (volume-weighted average price) keep decimal precision
	// end to end; OHLC stays float64 for indicator math.
	Volume decimal.Decimal
	WAP    decimal.Decimal
	// Count is the number of trades aggregated into this bar.
	Count int64
}

// BarSeries is a column-oriented, time-ordered sequence of bars for one feed.
// Columns are kept separate so indicator code can consume them without
// copying row structs. Timestamps are strictly increasing across committed
// elements; Append patches late or duplicate timestamps in place instead of
// violating that order.
//
// BarSeries itself is not synchronized. The orchestrator is the only writer;
// strategies receive it during their callback window and must treat it as
// read-only (the accessor surface returns copies).
type BarSeries struct {
	startTime []time.Time
	open      []float64
	high      []float64
	low       []float64
	close     []float64
	volume    []decimal.Decimal
	wap       []decimal.Decimal
	count     []int64
}

// NewBarSeries creates an empty series. The capacity is a pre-allocation
// hint, zero means no pre-allocation.
func NewBarSeries(capacity int) *BarSeries {
	if capacity <= 0 {
		return &BarSeries{}
	}

	return &BarSeries{
		startTime: make([]time.Time, 0, capacity),
		open:      make([]float64, 0, capacity),
		high:      make([]float64, 0, capacity),
		low:       make([]float64, 0, capacity),
		close:     make([]float64, 0, capacity),
		volume:    make([]decimal.Decimal, 0, capacity),
		wap:       make([]decimal.Decimal, 0, capacity),
		count:     make([]int64, 0, capacity),
	}
}

// Len returns the number of committed bars.
func (s *BarSeries) Len() int {
	return len(s.startTime)
}

// At returns the bar at position i. Panics on out-of-range access, like a
// slice index.
func (s *BarSeries) At(i int) Bar {
	return Bar{
		Time:   s.startTime[i],
		Open:   s.open[i],
		High:   s.high[i],
		Low:    s.low[i],
		Close:  s.close[i],
		Volume: s.volume[i],
		WAP:    s.wap[i],
		Count:  s.count[i],
	}
}

// Last returns the most recent bar, or None for an empty series.
func (s *BarSeries) Last() optional.Option[Bar] {
	if s.Len() == 0 {
		return optional.None[Bar]()
	}

	return optional.Some(s.At(s.Len() - 1))
}

// Append inserts a bar preserving ascending time order.
// A time after the current tail appends; a time matching an existing row
// replaces it in place (idempotent re-delivery); a time between existing
// rows is inserted at the correct position (late arrival).
func (s *BarSeries) Append(bar Bar) {
	n := len(s.startTime)
	if n == 0 || bar.Time.After(s.startTime[n-1]) {
		s.appendRow(bar)

		return
	}

	// Binary search for the first index with startTime >= bar.Time.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if s.startTime[mid].Before(bar.Time) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	if lo < n && s.startTime[lo].Equal(bar.Time) {
		s.replaceRow(lo, bar)

		return
	}

	s.insertRow(lo, bar)
}

func (s *BarSeries) appendRow(bar Bar) {
	s.startTime = append(s.startTime, bar.Time)
	s.open = append(s.open, bar.Open)
	s.high = append(s.high, bar.High)
	s.low = append(s.low, bar.Low)
	s.close = append(s.close, bar.Close)
	s.volume = append(s.volume, bar.Volume)
	s.wap = append(s.wap, bar.WAP)
	s.count = append(s.count, bar.Count)
}

func (s *BarSeries) replaceRow(i int, bar Bar) {
	s.startTime[i] = bar.Time
	s.open[i] = bar.Open
	s.high[i] = bar.High
	s.low[i] = bar.Low
	s.close[i] = bar.Close
	s.volume[i] = bar.Volume
	s.wap[i] = bar.WAP
	s.count[i] = bar.Count
}

func (s *BarSeries) insertRow(i int, bar Bar) {
	s.startTime = append(s.startTime[:i], append([]time.Time{bar.Time}, s.startTime[i:]...)...)
	s.open = append(s.open[:i], append([]float64{bar.Open}, s.open[i:]...)...)
	s.high = append(s.high[:i], append([]float64{bar.High}, s.high[i:]...)...)
	s.low = append(s.low[:i], append([]float64{bar.Low}, s.low[i:]...)...)
	s.close = append(s.close[:i], append([]float64{bar.Close}, s.close[i:]...)...)
	s.volume = append(s.volume[:i], append([]decimal.Decimal{bar.Volume}, s.volume[i:]...)...)
	s.wap = append(s.wap[:i], append([]decimal.Decimal{bar.WAP}, s.wap[i:]...)...)
	s.count = append(s.count[:i], append([]int64{bar.Count}, s.count[i:]...)...)
}

// Times returns a copy of the start-time column.
func (s *BarSeries) Times() []time.Time {
	out := make([]time.Time, len(s.startTime))
	copy(out, s.startTime)

	return out
}

// Opens returns a copy of the open column.
func (s *BarSeries) Opens() []float64 {
	return copyFloats(s.open)
}

// Highs returns a copy of the high column.
func (s *BarSeries) Highs() []float64 {
	return copyFloats(s.high)
}

// Lows returns a copy of the low column.
func (s *BarSeries) Lows() []float64 {
	return copyFloats(s.low)
}

// Closes returns a copy of the close column.
func (s *BarSeries) Closes() []float64 {
	return copyFloats(s.close)
}

// Volumes returns a copy of the volume column.
func (s *BarSeries) Volumes() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.volume))
	copy(out, s.volume)

	return out
}

// WAPs returns a copy of the weighted-average-price column.
func (s *BarSeries) WAPs() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.wap))
	copy(out, s.wap)

	return out
}

// Counts returns a copy of the trade-count column.
func (s *BarSeries) Counts() []int64 {
	out := make([]int64, len(s.count))
	copy(out, s.count)

	return out
}

func copyFloats(in []float64) []float64 {
	out := make([]float64, len(in))
	copy(out, in)

	return out
}
