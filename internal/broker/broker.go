// Package broker contains the execution layer: the Broker contract
// strategies trade through, and the simulated implementation that fills
// orders against replayed market prices.
package broker

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/CasinoHe/quanttrader-sub000/internal/types"
)

// Callback signatures for the four observable side effects of broker
// mutations. Callbacks run after the mutation is fully applied and outside
// the broker's internal lock; they must not retain the value past the call.
type (
	OrderCallback    func(types.Order)
	TradeCallback    func(types.Trade)
	PositionCallback func(types.Position)
	AccountCallback  func(types.AccountInfo)
)

// Broker is the execution contract consumed by strategies and the
// orchestrator. The simulated variant fills orders itself; a live variant
// forwards them to a venue and treats Connect/Disconnect as real sessions.
type Broker interface {
	// Connect and Disconnect are session hooks for live variants; the
	// simulated variant treats them as no-ops.
	Connect() error
	Disconnect() error

	// PlaceOrder validates the request, assigns a fresh order id and stores
	// the order as PENDING. The simulated variant immediately attempts to
	// fill MARKET orders when a last price for the symbol is known.
	PlaceOrder(req types.OrderRequest) (types.Order, error)
	// CancelOrder cancels a PENDING or PARTIALLY_FILLED order. Terminal or
	// unknown orders return an error without side effects.
	CancelOrder(id int64) error
	// ModifyOrder changes quantity and/or price of a non-terminal order.
	ModifyOrder(id int64, quantity, price float64) (types.Order, error)

	GetOrder(id int64) optional.Option[types.Order]
	GetOrders() []types.Order
	// GetOpenOrders returns PENDING and PARTIALLY_FILLED orders; an empty
	// symbol matches all symbols.
	GetOpenOrders(symbol string) []types.Order

	GetPosition(symbol string) types.Position
	GetAllPositions() []types.Position

	GetTrades() []types.Trade
	GetTradesByDate(start, end time.Time) []types.Trade

	GetAccountInfo() types.AccountInfo

	// UpdateMarketPrices refreshes last prices and marks positions to
	// market without evaluating pending orders.
	UpdateMarketPrices(prices map[string]float64)
	GetLastPrice(symbol string) optional.Option[float64]
	// ProcessMarketData is UpdateMarketPrices plus pending-order fill
	// evaluation and the margin check, stamped with the replay time.
	ProcessMarketData(ts time.Time, prices map[string]float64)

	OnOrderStatus(cb OrderCallback)
	OnTrade(cb TradeCallback)
	OnPosition(cb PositionCallback)
	OnAccount(cb AccountCallback)
}

// Config carries the execution-policy knobs shared by broker variants.
type Config struct {
	StartingCash             float64 `yaml:"starting_cash" json:"starting_cash" validate:"gte=0"`
	CommissionPerTrade       float64 `yaml:"commission_per_trade" json:"commission_per_trade" validate:"gte=0"`
	SlippagePercent          float64 `yaml:"slippage_percent" json:"slippage_percent" validate:"gte=0"`
	InitialMarginPercent     float64 `yaml:"initial_margin_percent" json:"initial_margin_percent" validate:"gte=0,lte=1"`
	MaintenanceMarginPercent float64 `yaml:"maintenance_margin_percent" json:"maintenance_margin_percent" validate:"gte=0,lte=1"`
}
