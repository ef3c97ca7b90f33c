// Package observer contains run-level instrumentation driven by the
// orchestrator: observers see every mark-to-market update and produce a
// report exactly once per run.
package observer

import (
	"time"

	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
)

// Observer receives mark-to-market updates during a run and reports at the
// end. Observers hold a non-owning broker handle for account and trade
// queries.
type Observer interface {
	SetBroker(b broker.Broker)
	SetTimezone(tz string) error
	// UpdateMarketValue is called once per synchronized step, after the
	// broker has seen the step's prices.
	UpdateMarketValue(ts time.Time, prices map[string]float64)
	// Report emits the run summary. Called exactly once per run.
	Report() error
}
