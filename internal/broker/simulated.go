package broker

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/internal/types"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// KindSimulated is the registry name of the simulated broker.
const KindSimulated = "simulated"

// SimulatedBroker fills orders against replayed market prices under the
// configured slippage, commission and margin policy. The order, position
// and account tables are one logical unit behind a single mutex: a caller
// never observes a Trade without its Position and AccountInfo updates
// already applied. Callbacks fire after the lock is released.
type SimulatedBroker struct {
	cfg Config
	log *logger.Logger

	mu          sync.Mutex
	nextOrderID int64
	orders      map[int64]*types.Order
	orderIDs    []int64
	positions   map[string]*types.Position
	trades      []types.Trade
	lastPrices  map[string]float64
	account     types.AccountInfo
	now         time.Time

	orderCbs    []OrderCallback
	tradeCbs    []TradeCallback
	positionCbs []PositionCallback
	accountCbs  []AccountCallback
}

// events collects callback payloads during a locked mutation so they can be
// fired after unlock.
type events struct {
	orders    []types.Order
	trades    []types.Trade
	positions []types.Position
	accounts  []types.AccountInfo
}

// NewSimulatedBroker creates a simulated broker with the account funded at
// the configured starting cash.
func NewSimulatedBroker(cfg Config, log *logger.Logger) *SimulatedBroker {
	return &SimulatedBroker{
		cfg:         cfg,
		log:         log,
		nextOrderID: 1,
		orders:      make(map[int64]*types.Order),
		positions:   make(map[string]*types.Position),
		lastPrices:  make(map[string]float64),
		account: types.AccountInfo{
			Cash:        cfg.StartingCash,
			Equity:      cfg.StartingCash,
			BuyingPower: buyingPower(cfg.StartingCash, cfg.InitialMarginPercent),
		},
	}
}

// Connect implements Broker; the simulated variant has no session.
func (b *SimulatedBroker) Connect() error { return nil }

// Disconnect implements Broker; the simulated variant has no session.
func (b *SimulatedBroker) Disconnect() error { return nil }

// PlaceOrder stores a validated order as PENDING. MARKET orders fill
// immediately when a last price for the symbol is already known.
func (b *SimulatedBroker) PlaceOrder(req types.OrderRequest) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}
	if req.Type == types.OrderTypeLimit || req.Type == types.OrderTypeStopLimit {
		if req.Price <= 0 {
			return types.Order{}, errors.Newf(errors.ErrCodeInvalidPrice, "%s order requires a positive limit price", req.Type)
		}
	}
	if req.Type == types.OrderTypeStop || req.Type == types.OrderTypeStopLimit {
		if req.StopPrice <= 0 {
			return types.Order{}, errors.Newf(errors.ErrCodeInvalidPrice, "%s order requires a positive stop price", req.Type)
		}
	}

	b.mu.Lock()

	order := &types.Order{
		ID:                b.nextOrderID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              req.Type,
		Quantity:          req.Quantity,
		Price:             req.Price,
		StopPrice:         req.StopPrice,
		Status:            types.OrderStatusPending,
		RemainingQuantity: req.Quantity,
		Timestamp:         b.clock(),
	}
	b.nextOrderID++
	b.orders[order.ID] = order
	b.orderIDs = append(b.orderIDs, order.ID)

	var ev events
	ev.orders = append(ev.orders, *order)

	if order.Type == types.OrderTypeMarket {
		if price, ok := b.lastPrices[order.Symbol]; ok {
			b.fill(order, price, b.clock(), &ev)
			b.recomputeAccount()
			ev.accounts = append(ev.accounts, b.account)
		}
	}

	placed := *order
	b.mu.Unlock()

	b.fire(ev)

	return placed, nil
}

// CancelOrder cancels a non-terminal order; unknown or terminal orders
// return an error without side effects.
func (b *SimulatedBroker) CancelOrder(id int64) error {
	b.mu.Lock()

	order, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()

		return errors.Newf(errors.ErrCodeOrderNotFound, "order %d not found", id)
	}
	if order.Status.Terminal() {
		b.mu.Unlock()

		return errors.Newf(errors.ErrCodeOrderTerminal, "order %d is %s and cannot be cancelled", id, order.Status)
	}

	order.Status = types.OrderStatusCancelled
	order.Timestamp = b.clock()

	var ev events
	ev.orders = append(ev.orders, *order)
	b.mu.Unlock()

	b.fire(ev)

	return nil
}

// ModifyOrder updates quantity and price of a non-terminal order. A
// quantity at or below the already-filled amount is rejected so the
// quantity invariant holds.
func (b *SimulatedBroker) ModifyOrder(id int64, quantity, price float64) (types.Order, error) {
	b.mu.Lock()

	order, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()

		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %d not found", id)
	}
	if order.Status.Terminal() {
		b.mu.Unlock()

		return types.Order{}, errors.Newf(errors.ErrCodeOrderTerminal, "order %d is %s and cannot be modified", id, order.Status)
	}
	if quantity <= order.FilledQuantity {
		b.mu.Unlock()

		return types.Order{}, errors.Newf(errors.ErrCodeInvalidQuantity,
			"order %d has %.4f already filled, new quantity %.4f is not above it", id, order.FilledQuantity, quantity)
	}

	order.Quantity = quantity
	order.RemainingQuantity = quantity - order.FilledQuantity
	if price > 0 {
		order.Price = price
	}
	order.Timestamp = b.clock()

	modified := *order

	var ev events
	ev.orders = append(ev.orders, modified)
	b.mu.Unlock()

	b.fire(ev)

	return modified, nil
}

// GetOrder returns a copy of the order, or None when the id is unknown.
func (b *SimulatedBroker) GetOrder(id int64) optional.Option[types.Order] {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[id]
	if !ok {
		return optional.None[types.Order]()
	}

	return optional.Some(*order)
}

// GetOrders returns copies of every order in placement order.
func (b *SimulatedBroker) GetOrders() []types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Order, 0, len(b.orderIDs))
	for _, id := range b.orderIDs {
		out = append(out, *b.orders[id])
	}

	return out
}

// GetOpenOrders returns PENDING and PARTIALLY_FILLED orders, optionally
// filtered by symbol.
func (b *SimulatedBroker) GetOpenOrders(symbol string) []types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Order
	for _, id := range b.orderIDs {
		order := b.orders[id]
		if !order.Open() {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		out = append(out, *order)
	}

	return out
}

// GetPosition returns the position for a symbol; a flat zero-value position
// when the symbol never traded.
func (b *SimulatedBroker) GetPosition(symbol string) types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pos, ok := b.positions[symbol]; ok {
		return *pos
	}

	return types.Position{Symbol: symbol}
}

// GetAllPositions returns copies of every non-flat position.
func (b *SimulatedBroker) GetAllPositions() []types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Position
	for _, pos := range b.positions {
		if !pos.Flat() {
			out = append(out, *pos)
		}
	}

	return out
}

// GetTrades returns every execution in fill order.
func (b *SimulatedBroker) GetTrades() []types.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Trade, len(b.trades))
	copy(out, b.trades)

	return out
}

// GetTradesByDate returns executions stamped within [start, end].
func (b *SimulatedBroker) GetTradesByDate(start, end time.Time) []types.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Trade
	for _, trade := range b.trades {
		if trade.Timestamp.Before(start) || trade.Timestamp.After(end) {
			continue
		}
		out = append(out, trade)
	}

	return out
}

// GetAccountInfo returns the current account snapshot.
func (b *SimulatedBroker) GetAccountInfo() types.AccountInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.account
}

// UpdateMarketPrices refreshes last prices and marks positions to market.
func (b *SimulatedBroker) UpdateMarketPrices(prices map[string]float64) {
	b.mu.Lock()

	b.updatePrices(prices)
	b.recomputeAccount()

	var ev events
	ev.accounts = append(ev.accounts, b.account)
	b.mu.Unlock()

	b.fire(ev)
}

// GetLastPrice returns the most recent price for a symbol.
func (b *SimulatedBroker) GetLastPrice(symbol string) optional.Option[float64] {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.lastPrices[symbol]
	if !ok {
		return optional.None[float64]()
	}

	return optional.Some(price)
}

// ProcessMarketData refreshes prices, evaluates every open order whose
// symbol has a fresh price, recomputes the account and runs the margin
// check. The whole update is atomic from the caller's point of view.
func (b *SimulatedBroker) ProcessMarketData(ts time.Time, prices map[string]float64) {
	b.mu.Lock()

	b.now = ts
	b.updatePrices(prices)

	var ev events
	for _, id := range b.orderIDs {
		order := b.orders[id]
		if !order.Open() {
			continue
		}
		price, fresh := prices[order.Symbol]
		if !fresh {
			continue
		}
		if b.shouldFill(order, price) {
			b.fill(order, price, ts, &ev)
		}
	}

	b.recomputeAccount()
	b.checkMargin()

	ev.accounts = append(ev.accounts, b.account)
	b.mu.Unlock()

	b.fire(ev)
}

// OnOrderStatus registers an order-status callback.
func (b *SimulatedBroker) OnOrderStatus(cb OrderCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orderCbs = append(b.orderCbs, cb)
}

// OnTrade registers a trade callback.
func (b *SimulatedBroker) OnTrade(cb TradeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tradeCbs = append(b.tradeCbs, cb)
}

// OnPosition registers a position callback.
func (b *SimulatedBroker) OnPosition(cb PositionCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positionCbs = append(b.positionCbs, cb)
}

// OnAccount registers an account callback.
func (b *SimulatedBroker) OnAccount(cb AccountCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.accountCbs = append(b.accountCbs, cb)
}

// shouldFill decides eligibility against the current price. STOP_LIMIT is
// triggered exactly like STOP.
func (b *SimulatedBroker) shouldFill(order *types.Order, price float64) bool {
	switch order.Type {
	case types.OrderTypeMarket:
		return true
	case types.OrderTypeLimit:
		if order.Side == types.OrderSideBuy {
			return price <= order.Price
		}

		return price >= order.Price
	case types.OrderTypeStop, types.OrderTypeStopLimit:
		if order.Side == types.OrderSideBuy {
			return price >= order.StopPrice
		}

		return price <= order.StopPrice
	default:
		return false
	}
}

// fillPrice computes the execution price. MARKET applies slippage against
// the current price, LIMIT fills at the better of current and limit price,
// triggered stops fill at the current price.
func (b *SimulatedBroker) fillPrice(order *types.Order, price float64) float64 {
	switch order.Type {
	case types.OrderTypeMarket:
		slip := price * b.cfg.SlippagePercent / 100
		if order.Side == types.OrderSideBuy {
			return price + slip
		}

		return price - slip
	case types.OrderTypeLimit:
		if order.Side == types.OrderSideBuy && price > order.Price {
			return order.Price
		}
		if order.Side == types.OrderSideSell && price < order.Price {
			return order.Price
		}

		return price
	default:
		return price
	}
}

// fill executes the order's remaining quantity at the policy price. Cash
// moves exactly once: signed notional minus commission for sells, plus
// commission for buys. A buy the account cannot pay for rejects the order
// instead of partially mutating state.
func (b *SimulatedBroker) fill(order *types.Order, price float64, ts time.Time, ev *events) {
	execPrice := b.fillPrice(order, price)
	quantity := order.RemainingQuantity
	commission := b.cfg.CommissionPerTrade

	notional := decimal.NewFromFloat(execPrice).Mul(decimal.NewFromFloat(quantity))

	if order.Side == types.OrderSideBuy {
		required, _ := notional.Add(decimal.NewFromFloat(commission)).Float64()
		if b.account.Cash < required {
			order.Status = types.OrderStatusRejected
			order.Reason = "insufficient cash"
			order.Timestamp = ts
			ev.orders = append(ev.orders, *order)
			b.log.Warn("order rejected",
				zap.Int64("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Float64("required", required),
				zap.Float64("cash", b.account.Cash))

			return
		}
	}

	trade := types.Trade{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   quantity,
		Price:      execPrice,
		Commission: commission,
		Timestamp:  ts,
	}
	b.trades = append(b.trades, trade)

	order.FilledQuantity += quantity
	order.RemainingQuantity = order.Quantity - order.FilledQuantity
	if order.RemainingQuantity == 0 {
		order.Status = types.OrderStatusFilled
	} else {
		order.Status = types.OrderStatusPartiallyFilled
	}
	order.Timestamp = ts

	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = &types.Position{Symbol: order.Symbol}
		b.positions[order.Symbol] = pos
	}
	realized := pos.ApplyFill(order.Side, quantity, execPrice)
	pos.MarkToMarket(price)

	cash := decimal.NewFromFloat(b.account.Cash)
	if order.Side == types.OrderSideBuy {
		cash = cash.Sub(notional)
	} else {
		cash = cash.Add(notional)
	}
	cash = cash.Sub(decimal.NewFromFloat(commission))
	b.account.Cash, _ = cash.Float64()
	b.account.RealizedPnL += realized

	ev.orders = append(ev.orders, *order)
	ev.trades = append(ev.trades, trade)
	ev.positions = append(ev.positions, *pos)
}

func (b *SimulatedBroker) updatePrices(prices map[string]float64) {
	for symbol, price := range prices {
		b.lastPrices[symbol] = price
		if pos, ok := b.positions[symbol]; ok {
			pos.MarkToMarket(price)
		}
	}
}

// recomputeAccount rebuilds equity, margins and P&L sums from cash plus the
// mark-to-market of every position.
func (b *SimulatedBroker) recomputeAccount() {
	equity := decimal.NewFromFloat(b.account.Cash)
	exposure := decimal.Zero
	unrealized := 0.0

	for symbol, pos := range b.positions {
		if pos.Flat() {
			continue
		}

		price, ok := b.lastPrices[symbol]
		if !ok {
			price = pos.AvgPrice
		}

		value := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(price))
		equity = equity.Add(value)
		exposure = exposure.Add(value.Abs())
		unrealized += pos.UnrealizedPnL
	}

	b.account.Equity, _ = equity.Float64()
	b.account.UnrealizedPnL = unrealized
	b.account.InitialMargin, _ = exposure.Mul(decimal.NewFromFloat(b.cfg.InitialMarginPercent)).Float64()
	b.account.MaintenanceMargin, _ = exposure.Mul(decimal.NewFromFloat(b.cfg.MaintenanceMarginPercent)).Float64()
	b.account.BuyingPower = buyingPower(b.account.Cash, b.cfg.InitialMarginPercent)
}

// checkMargin raises a warning when cash no longer covers the maintenance
// requirement. No forced liquidation.
func (b *SimulatedBroker) checkMargin() {
	if b.cfg.MaintenanceMarginPercent <= 0 {
		return
	}
	if b.account.Cash >= b.account.MaintenanceMargin {
		return
	}

	b.log.Warn("margin warning: cash below maintenance requirement",
		zap.Float64("cash", b.account.Cash),
		zap.Float64("maintenance_margin", b.account.MaintenanceMargin),
		zap.Time("time", b.now))
}

// clock returns the latest replay timestamp, falling back to wall time
// before the first market-data update.
func (b *SimulatedBroker) clock() time.Time {
	if b.now.IsZero() {
		return time.Now()
	}

	return b.now
}

func (b *SimulatedBroker) fire(ev events) {
	b.mu.Lock()
	orderCbs := append([]OrderCallback(nil), b.orderCbs...)
	tradeCbs := append([]TradeCallback(nil), b.tradeCbs...)
	positionCbs := append([]PositionCallback(nil), b.positionCbs...)
	accountCbs := append([]AccountCallback(nil), b.accountCbs...)
	b.mu.Unlock()

	for _, order := range ev.orders {
		for _, cb := range orderCbs {
			cb(order)
		}
	}
	for _, trade := range ev.trades {
		for _, cb := range tradeCbs {
			cb(trade)
		}
	}
	for _, pos := range ev.positions {
		for _, cb := range positionCbs {
			cb(pos)
		}
	}
	for _, acct := range ev.accounts {
		for _, cb := range accountCbs {
			cb(acct)
		}
	}
}

func buyingPower(cash, initialMarginPercent float64) float64 {
	if initialMarginPercent <= 0 {
		return cash
	}

	return cash / initialMarginPercent
}
