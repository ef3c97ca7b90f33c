package feed

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/CasinoHe/quanttrader-sub000/internal/types"
)

// BarLine is the timestamp-ordered column store backing one feed, combined
// with a replay cursor. A single writer pushes bars while concurrent readers
// query columns; the cursor is advanced only by the feed's own delivery
// goroutine.
type BarLine struct {
	mu     sync.RWMutex
	series *types.BarSeries
	cursor int
}

// NewBarLine creates an empty BarLine. capacity is a pre-allocation hint.
func NewBarLine(capacity int) *BarLine {
	return &BarLine{series: types.NewBarSeries(capacity)}
}

// Push inserts a bar keeping ascending time order: strictly-after-tail bars
// are appended, duplicate timestamps replace the existing row, late arrivals
// are inserted at their ordered position.
func (l *BarLine) Push(bar types.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.series.Append(bar)
}

// Len returns the number of stored bars.
func (l *BarLine) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Len()
}

// Next returns the bar at the cursor and advances it, or None when the
// cursor has passed the tail.
func (l *BarLine) Next() optional.Option[types.Bar] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor >= l.series.Len() {
		return optional.None[types.Bar]()
	}

	bar := l.series.At(l.cursor)
	l.cursor++

	return optional.Some(bar)
}

// Rollback moves the cursor back one bar so the last returned bar is
// delivered again. It reports false when nothing has been delivered yet.
func (l *BarLine) Rollback() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor == 0 {
		return false
	}

	l.cursor--

	return true
}

// Rewind resets the cursor to the first bar.
func (l *BarLine) Rewind() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cursor = 0
}

// Exhausted reports whether every stored bar has been delivered.
func (l *BarLine) Exhausted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cursor >= l.series.Len()
}

// Bars returns a snapshot copy of all stored bars in time order.
func (l *BarLine) Bars() []types.Bar {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Bar, l.series.Len())
	for i := range out {
		out[i] = l.series.At(i)
	}

	return out
}

// StartTimes returns a snapshot of the start_time column.
func (l *BarLine) StartTimes() []time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Times()
}

// Opens returns a snapshot of the open column.
func (l *BarLine) Opens() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Opens()
}

// Highs returns a snapshot of the high column.
func (l *BarLine) Highs() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Highs()
}

// Lows returns a snapshot of the low column.
func (l *BarLine) Lows() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Lows()
}

// Closes returns a snapshot of the close column.
func (l *BarLine) Closes() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Closes()
}

// Volumes returns a snapshot of the volume column.
func (l *BarLine) Volumes() []decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Volumes()
}

// WAPs returns a snapshot of the wap column.
func (l *BarLine) WAPs() []decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.WAPs()
}

// Counts returns a snapshot of the count column.
func (l *BarLine) Counts() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.series.Counts()
}
