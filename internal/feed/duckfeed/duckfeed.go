// Package duckfeed provides a historical DataProvider that reads bars from
// a parquet file through DuckDB.
package duckfeed

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasinoHe/quanttrader-sub000/internal/feed"
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// Config describes one parquet-backed feed. The parquet schema must carry
// time, open, high, low, close and volume columns; wap and count are
// optional and default to the row's close price and zero.
type Config struct {
	Path        string `validate:"required"`
	Symbol      string `validate:"required"`
	Granularity feed.Granularity
	Timezone    string `validate:"required"`
}

// Provider replays bars selected from a parquet file via an in-memory
// DuckDB instance.
type Provider struct {
	*feed.BaseProvider

	path   string
	symbol string
	log    *logger.Logger

	db *sql.DB
	sq squirrel.StatementBuilderType

	loaded bool
}

// New builds a provider; DuckDB is not opened until PrepareData.
func New(cfg Config, log *logger.Logger) (*Provider, error) {
	base, err := feed.NewBaseProvider(cfg.Symbol, cfg.Granularity, cfg.Timezone, 0, log)
	if err != nil {
		return nil, err
	}

	return &Provider{
		BaseProvider: base,
		path:         cfg.Path,
		symbol:       cfg.Symbol,
		log:          log,
		sq:           squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// PrepareData opens an in-memory DuckDB and registers the parquet file as a
// view.
func (p *Provider) PrepareData() error {
	if p.db != nil {
		return nil
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return errors.Wrap(errors.ErrCodeDataLoadFailed, "open duckdb", err)
	}

	query := fmt.Sprintf(`CREATE VIEW bars AS SELECT * FROM read_parquet('%s')`, p.path)
	if _, err := db.Exec(query); err != nil {
		db.Close()

		return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "register parquet file %s", p.path)
	}

	p.db = db

	return nil
}

// StartRequestData loads every bar in time order into the bar line and
// marks the provider ready.
func (p *Provider) StartRequestData() error {
	if p.db == nil {
		if err := p.PrepareData(); err != nil {
			return err
		}
	}

	if !p.loaded {
		if err := p.load(); err != nil {
			return err
		}
		p.loaded = true
	}

	return p.BaseProvider.StartRequestData()
}

func (p *Provider) load() error {
	query, args, err := p.sq.
		Select("time", "open", "high", "low", "close", "volume").
		From("bars").
		OrderBy("time ASC").
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDataQueryFailed, "build bar query", err)
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataQueryFailed, err, "query bars from %s", p.path)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			ts                             time.Time
			open, high, low, close, volume float64
		)
		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return errors.Wrap(errors.ErrCodeDataQueryFailed, "scan bar row", err)
		}

		p.Push(types.Bar{
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: decimal.NewFromFloat(volume),
			WAP:    decimal.NewFromFloat(close),
		})
		count++
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(errors.ErrCodeDataQueryFailed, err, "iterate bars from %s", p.path)
	}

	p.log.Info("loaded parquet feed",
		zap.String("path", p.path),
		zap.String("symbol", p.symbol),
		zap.Int("bars", count))

	return nil
}

// TerminateRequestData closes the DuckDB handle in addition to the base
// shutdown.
func (p *Provider) TerminateRequestData() error {
	if err := p.BaseProvider.TerminateRequestData(); err != nil {
		return err
	}

	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return errors.Wrap(errors.ErrCodeDataLoadFailed, "close duckdb", err)
		}
		p.db = nil
	}

	return nil
}
