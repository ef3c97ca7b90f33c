package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable execution record. Partial fills create one Trade per
// fill event against the same order.
type Trade struct {
	OrderID    int64     `yaml:"order_id" json:"order_id"`
	Symbol     string    `yaml:"symbol" json:"symbol"`
	Side       OrderSide `yaml:"side" json:"side"`
	Quantity   float64   `yaml:"quantity" json:"quantity"`
	Price      float64   `yaml:"price" json:"price"`
	Commission float64   `yaml:"commission" json:"commission"`
	Timestamp  time.Time `yaml:"timestamp" json:"timestamp"`
}

// Position is the per-symbol aggregate of all fills. Quantity is signed:
// positive means long, negative means short. AvgPrice is defined only while
// Quantity != 0.
type Position struct {
	Symbol        string  `yaml:"symbol" json:"symbol"`
	Quantity      float64 `yaml:"quantity" json:"quantity"`
	AvgPrice      float64 `yaml:"avg_price" json:"avg_price"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	RealizedPnL   float64 `yaml:"realized_pnl" json:"realized_pnl"`
}

// Long reports whether the position is net long.
func (p *Position) Long() bool {
	return p.Quantity > 0
}

// Short reports whether the position is net short.
func (p *Position) Short() bool {
	return p.Quantity < 0
}

// Flat reports whether there is no open position.
func (p *Position) Flat() bool {
	return p.Quantity == 0
}

// ApplyFill mutates the position for a fill and returns the realized P&L of
// the closed portion (zero when nothing closes).
//
// Same-direction additions recompute a quantity-weighted average price.
// Opposite-direction fills realize P&L proportional to the closed quantity
// against the existing average price; reductions keep the average price
// basis. A fill that over-closes flips the sign and opens a fresh basis at
// the fill price for the excess.
func (p *Position) ApplyFill(side OrderSide, quantity, price float64) float64 {
	signed := quantity
	if side == OrderSideSell {
		signed = -quantity
	}

	oldQty := p.Quantity
	newQty := oldQty + signed
	realized := 0.0

	if oldQty != 0 && oldQty*signed < 0 {
		closed := math.Min(math.Abs(signed), math.Abs(oldQty))

		perShare := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.AvgPrice))
		if oldQty < 0 {
			perShare = perShare.Neg()
		}

		realized, _ = perShare.Mul(decimal.NewFromFloat(closed)).Float64()
		p.RealizedPnL += realized
	}

	switch {
	case newQty == 0:
		p.Quantity = 0
		p.AvgPrice = 0
		p.UnrealizedPnL = 0
	case sameDirection(oldQty, newQty):
		if math.Abs(newQty) > math.Abs(oldQty) {
			// Adding to the position: quantity-weighted average basis.
			oldCost := decimal.NewFromFloat(p.AvgPrice).Mul(decimal.NewFromFloat(math.Abs(oldQty)))
			addCost := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity))
			avg := oldCost.Add(addCost).Div(decimal.NewFromFloat(math.Abs(newQty)))
			p.AvgPrice, _ = avg.Float64()
		}
		// Reductions keep the existing average price basis.
		p.Quantity = newQty
	default:
		// Over-close: the residual opens a fresh basis at the fill price.
		p.Quantity = newQty
		p.AvgPrice = price
		p.UnrealizedPnL = 0
	}

	return realized
}

// MarkToMarket refreshes the unrealized P&L against the given price.
func (p *Position) MarkToMarket(price float64) {
	if p.Quantity == 0 {
		p.UnrealizedPnL = 0

		return
	}

	pnl := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(p.AvgPrice)).
		Mul(decimal.NewFromFloat(p.Quantity))
	p.UnrealizedPnL, _ = pnl.Float64()
}

// MarketValue returns the signed notional value at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

func sameDirection(a, b float64) bool {
	return (a >= 0 && b > 0) || (a <= 0 && b < 0)
}
