// Package csvfeed provides a historical DataProvider backed by a CSV file.
package csvfeed

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// Config describes one CSV feed.
type Config struct {
	Path        string `validate:"required"`
	Symbol      string `validate:"required"`
	Granularity feed.Granularity
	Timezone    string `validate:"required"`
}

// Provider replays bars loaded from a CSV file with the header
// time,open,high,low,close,volume[,wap][,count]. Timestamps are RFC 3339,
// "2006-01-02 15:04:05" in the feed timezone, or a Unix epoch in seconds.
type Provider struct {
	*feed.BaseProvider

	path string
	loc  *time.Location
	log  *logger.Logger

	loaded bool
}

// New builds a provider; data is not touched until PrepareData.
func New(cfg Config, log *logger.Logger) (*Provider, error) {
	base, err := feed.NewBaseProvider(cfg.Symbol, cfg.Granularity, cfg.Timezone, 0, log)
	if err != nil {
		return nil, err
	}

	loc, err := feed.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	return &Provider{
		BaseProvider: base,
		path:         cfg.Path,
		loc:          loc,
		log:          log,
	}, nil
}

// PrepareData verifies the file exists and is a regular file.
func (p *Provider) PrepareData() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "stat csv file %s", p.path)
	}
	if info.IsDir() {
		return errors.Newf(errors.ErrCodeDataLoadFailed, "%s is a directory, expected a csv file", p.path)
	}

	return nil
}

// StartRequestData loads every row into the bar line and marks the provider
// ready. Loading is idempotent across restarts.
func (p *Provider) StartRequestData() error {
	if !p.loaded {
		if err := p.load(); err != nil {
			return err
		}
		p.loaded = true
	}

	return p.BaseProvider.StartRequestData()
}

func (p *Provider) load() error {
	f, err := os.Open(p.path)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "open csv file %s", p.path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "read csv header from %s", p.path)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return errors.Newf(errors.ErrCodeDataLoadFailed, "csv file %s is missing column %q", p.path, required)
		}
	}

	line := 1
	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "read csv row %d from %s", line+1, p.path)
		}
		line++

		bar, err := p.parseRow(record, cols)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "parse csv row %d from %s", line, p.path)
		}

		p.Push(bar)
		count++
	}

	p.log.Info("loaded csv feed",
		zap.String("path", p.path),
		zap.String("symbol", p.Symbol()),
		zap.Int("bars", count))

	return nil
}

func (p *Provider) parseRow(record []string, cols map[string]int) (types.Bar, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}

		return strings.TrimSpace(record[i]), true
	}

	raw, _ := field("time")
	ts, err := p.parseTime(raw)
	if err != nil {
		return types.Bar{}, err
	}

	bar := types.Bar{Time: ts}

	for _, col := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
	} {
		raw, _ := field(col.name)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Bar{}, errors.Newf(errors.ErrCodeDataLoadFailed, "column %q: invalid number %q", col.name, raw)
		}
		*col.dst = v
	}

	raw, _ = field("volume")
	bar.Volume, err = decimal.NewFromString(raw)
	if err != nil {
		return types.Bar{}, errors.Newf(errors.ErrCodeDataLoadFailed, "column \"volume\": invalid number %q", raw)
	}

	if raw, ok := field("wap"); ok && raw != "" {
		bar.WAP, err = decimal.NewFromString(raw)
		if err != nil {
			return types.Bar{}, errors.Newf(errors.ErrCodeDataLoadFailed, "column \"wap\": invalid number %q", raw)
		}
	} else {
		bar.WAP = decimal.NewFromFloat(bar.Close)
	}

	if raw, ok := field("count"); ok && raw != "" {
		bar.Count, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return types.Bar{}, errors.Newf(errors.ErrCodeDataLoadFailed, "column \"count\": invalid integer %q", raw)
		}
	}

	return bar, nil
}

func (p *Provider) parseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", raw, p.loc); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02", raw, p.loc); err == nil {
		return ts, nil
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(epoch, 0).In(p.loc), nil
	}

	return time.Time{}, errors.Newf(errors.ErrCodeDataLoadFailed, "unrecognized timestamp %q", raw)
}
