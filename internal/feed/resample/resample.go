// Package resample aggregates bar sequences from a finer granularity into a
// coarser one.
package resample

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/CasinoHe/quanttrader-sub000/internal/types"
)

// Aggregate buckets time-ordered bars by the target duration and collapses
// each bucket into one bar: open from the first bar, close from the last,
// high/low as extremes, volume and count summed, WAP volume-weighted (falls
// back to the close of the last bar when the bucket traded no volume).
// The bucket's bar is stamped with the bucket start time.
func Aggregate(bars []types.Bar, bucket time.Duration) []types.Bar {
	if len(bars) == 0 || bucket <= 0 {
		return nil
	}

	out := make([]types.Bar, 0, len(bars))

	var (
		current  types.Bar
		notional decimal.Decimal
		open     bool
	)

	flush := func() {
		if !open {
			return
		}
		if current.Volume.IsPositive() {
			current.WAP = notional.Div(current.Volume)
		} else {
			current.WAP = decimal.NewFromFloat(current.Close)
		}
		out = append(out, current)
		open = false
	}

	for _, bar := range bars {
		start := bar.Time.Truncate(bucket)

		if open && !start.Equal(current.Time) {
			flush()
		}

		if !open {
			current = types.Bar{
				Time:   start,
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: bar.Volume,
				Count:  bar.Count,
			}
			notional = bar.WAP.Mul(bar.Volume)
			open = true

			continue
		}

		if bar.High > current.High {
			current.High = bar.High
		}
		if bar.Low < current.Low {
			current.Low = bar.Low
		}
		current.Close = bar.Close
		current.Volume = current.Volume.Add(bar.Volume)
		current.Count += bar.Count
		notional = notional.Add(bar.WAP.Mul(bar.Volume))
	}

	flush()

	return out
}
