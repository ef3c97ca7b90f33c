// Package strategy defines the contract the orchestrator drives and the
// base plumbing concrete strategies embed.
package strategy

import (
	"github.com/CasinoHe/quanttrader-sub000/internal/broker"
	"github.com/CasinoHe/quanttrader-sub000/internal/observer"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
)

// Strategy receives synchronized bar series and trades through the broker
// handle injected before the run. OnDataSeries gets a read-only view of the
// per-feed series cache valid only for the duration of the call; a strategy
// must not retain the map or the series past its callback.
type Strategy interface {
	Name() string

	// OnStart runs after the broker is injected and before the first data
	// delivery. Returning an error aborts the run.
	OnStart() error
	// OnStop runs exactly once when the run ends.
	OnStop()

	// OnDataSeries delivers the full per-feed series cache for one
	// synchronized step together with calendar-boundary flags.
	OnDataSeries(series map[string]*types.BarSeries, dayChanged, hourChanged, minuteChanged bool)
	// OnTrade notifies the strategy of one of its executions.
	OnTrade(trade types.Trade)

	SetBroker(b broker.Broker)
	AddObserver(obs observer.Observer)
}

// Base carries the broker and observer plumbing so concrete strategies only
// implement Name and the callbacks they care about.
type Base struct {
	broker    broker.Broker
	observers []observer.Observer
}

// SetBroker implements Strategy.
func (b *Base) SetBroker(br broker.Broker) {
	b.broker = br
}

// Broker returns the injected broker handle.
func (b *Base) Broker() broker.Broker {
	return b.broker
}

// AddObserver implements Strategy.
func (b *Base) AddObserver(obs observer.Observer) {
	b.observers = append(b.observers, obs)
}

// Observers returns the registered observers.
func (b *Base) Observers() []observer.Observer {
	return b.observers
}

// OnStart implements Strategy with a no-op.
func (b *Base) OnStart() error { return nil }

// OnStop implements Strategy with a no-op.
func (b *Base) OnStop() {}

// OnTrade implements Strategy with a no-op.
func (b *Base) OnTrade(types.Trade) {}
