package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barAt(t time.Time, close float64) Bar {
	return Bar{
		Time:   t,
		Open:   close - 1,
		High:   close + 1,
		Low:    close - 2,
		Close:  close,
		Volume: decimal.NewFromInt(100),
		WAP:    decimal.NewFromFloat(close),
		Count:  10,
	}
}

func TestBarSeriesAppendAscending(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	s := NewBarSeries(4)

	for i := 0; i < 4; i++ {
		s.Append(barAt(base.Add(time.Duration(i)*time.Minute), float64(100+i)))
	}

	require.Equal(t, 4, s.Len())
	for i := 0; i < 4; i++ {
		assert.Equal(t, base.Add(time.Duration(i)*time.Minute), s.At(i).Time)
		assert.Equal(t, float64(100+i), s.At(i).Close)
	}
}

func TestBarSeriesReplaceSameTimestamp(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	s := NewBarSeries(0)

	s.Append(barAt(base, 100))
	s.Append(barAt(base.Add(time.Minute), 101))
	s.Append(barAt(base, 200))

	require.Equal(t, 2, s.Len())
	assert.Equal(t, 200.0, s.At(0).Close)
	assert.Equal(t, 101.0, s.At(1).Close)
}

func TestBarSeriesLateArrivalInsert(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	s := NewBarSeries(0)

	s.Append(barAt(base, 100))
	s.Append(barAt(base.Add(2*time.Minute), 102))
	s.Append(barAt(base.Add(time.Minute), 101))

	require.Equal(t, 3, s.Len())
	times := s.Times()
	for i := 1; i < len(times); i++ {
		assert.True(t, times[i].After(times[i-1]), "times must stay ascending")
	}
	assert.Equal(t, 101.0, s.At(1).Close)
}

func TestBarSeriesLast(t *testing.T) {
	s := NewBarSeries(0)
	assert.True(t, s.Last().IsNone())

	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	s.Append(barAt(base, 100))
	s.Append(barAt(base.Add(time.Minute), 101))

	last := s.Last()
	require.True(t, last.IsSome())
	assert.Equal(t, 101.0, last.Unwrap().Close)
}

func TestBarSeriesSnapshotsAreCopies(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	s := NewBarSeries(0)
	s.Append(barAt(base, 100))

	closes := s.Closes()
	closes[0] = -1

	assert.Equal(t, 100.0, s.At(0).Close)
}
