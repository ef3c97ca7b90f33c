package csvfeed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func newProvider(t *testing.T, path string) *Provider {
	t.Helper()

	log, err := logger.NewTestLogger()
	require.NoError(t, err)

	p, err := New(Config{
		Path:        path,
		Symbol:      "AAPL",
		Granularity: feed.Granularity{Size: 1, Unit: feed.BarUnitMinute},
		Timezone:    "UTC",
	}, log)
	require.NoError(t, err)

	return p
}

const sampleCSV = `time,open,high,low,close,volume,wap,count
2024-03-01T09:30:00Z,10,11,9,10.5,100,10.2,5
2024-03-01T09:31:00Z,10.5,12,10,11.5,200,11.1,8
2024-03-01T09:32:00Z,11.5,13,11,12.5,150,12.0,6
`

func TestProviderReplaysRows(t *testing.T) {
	p := newProvider(t, writeCSV(t, sampleCSV))

	require.NoError(t, p.PrepareData())
	require.NoError(t, p.StartRequestData())
	require.True(t, p.IsDataReady())

	want := []float64{10.5, 11.5, 12.5}
	for i, close := range want {
		next := p.Next()
		require.True(t, next.IsSome(), "bar %d", i)
		bar := next.Unwrap()
		assert.Equal(t, close, bar.Close)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 30+i, 0, 0, time.UTC), bar.Time.UTC())
	}
	assert.True(t, p.Next().IsNone())
}

func TestProviderRollbackAndRewind(t *testing.T) {
	p := newProvider(t, writeCSV(t, sampleCSV))
	require.NoError(t, p.StartRequestData())

	first := p.Next()
	require.True(t, first.IsSome())

	require.True(t, p.Rollback())
	again := p.Next()
	require.True(t, again.IsSome())
	assert.Equal(t, first.Unwrap().Time, again.Unwrap().Time)

	p.Next()
	p.Next()
	require.NoError(t, p.Rewind())
	assert.Equal(t, 10.5, p.Next().Unwrap().Close)
}

func TestProviderOptionalColumns(t *testing.T) {
	csv := `time,open,high,low,close,volume
1709285400,10,11,9,10.5,100
1709285460,10.5,12,10,11.5,200
`
	p := newProvider(t, writeCSV(t, csv))
	require.NoError(t, p.StartRequestData())

	bar := p.Next()
	require.True(t, bar.IsSome())
	// WAP defaults to close when the column is absent.
	assert.True(t, decimal.NewFromFloat(10.5).Equal(bar.Unwrap().WAP))
	assert.InDelta(t, 10.5, bar.Unwrap().Close, 1e-9)
	assert.Equal(t, int64(0), bar.Unwrap().Count)
}

func TestProviderMissingColumn(t *testing.T) {
	p := newProvider(t, writeCSV(t, "time,open,high,low,close\n2024-03-01T09:30:00Z,1,2,0.5,1.5\n"))

	err := p.StartRequestData()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataLoadFailed))
}

func TestProviderMissingFile(t *testing.T) {
	p := newProvider(t, filepath.Join(t.TempDir(), "absent.csv"))

	err := p.PrepareData()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataLoadFailed))
}

func TestProviderBadRow(t *testing.T) {
	p := newProvider(t, writeCSV(t, "time,open,high,low,close,volume\n2024-03-01T09:30:00Z,abc,2,0.5,1.5,10\n"))

	err := p.StartRequestData()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataLoadFailed))
}

func TestProviderResample(t *testing.T) {
	p := newProvider(t, writeCSV(t, sampleCSV))
	require.NoError(t, p.StartRequestData())

	coarse, err := p.Resample(feed.Granularity{Size: 5, Unit: feed.BarUnitMinute})
	require.NoError(t, err)

	bar := coarse.Next()
	require.True(t, bar.IsSome())
	assert.Equal(t, 10.0, bar.Unwrap().Open)
	assert.Equal(t, 12.5, bar.Unwrap().Close)
	assert.Equal(t, 13.0, bar.Unwrap().High)
	assert.Equal(t, 9.0, bar.Unwrap().Low)
	assert.True(t, coarse.Next().IsNone())
}
