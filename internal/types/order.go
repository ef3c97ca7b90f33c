package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
	// OrderTypeStopLimit is triggered and filled exactly like OrderTypeStop:
	// the limit cap after the stop triggers is not modeled. Known
	// simplification, kept intentionally.
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest is the caller-supplied intent handed to PlaceOrder.
// Price is the limit price for LIMIT/STOP_LIMIT orders and an optional
// price hint for MARKET orders; StopPrice is the trigger for STOP and
// STOP_LIMIT orders.
type OrderRequest struct {
	Symbol    string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side      OrderSide `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type      OrderType `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Quantity  float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	Price     float64   `yaml:"price" json:"price" validate:"gte=0"`
	StopPrice float64   `yaml:"stop_price" json:"stop_price" validate:"gte=0"`
}

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderRequest, "invalid order request", err)
	}

	return nil
}

// Order is the broker-side record of an order. Orders are created by
// PlaceOrder, mutated only by the execution simulator's fill/cancel/reject
// paths, and never deleted; terminal orders stay queryable as history.
//
// Invariant: FilledQuantity + RemainingQuantity == Quantity at all times.
type Order struct {
	ID                int64       `yaml:"id" json:"id"`
	Symbol            string      `yaml:"symbol" json:"symbol"`
	Side              OrderSide   `yaml:"side" json:"side"`
	Type              OrderType   `yaml:"type" json:"type"`
	Quantity          float64     `yaml:"quantity" json:"quantity"`
	Price             float64     `yaml:"price" json:"price"`
	StopPrice         float64     `yaml:"stop_price" json:"stop_price"`
	Status            OrderStatus `yaml:"status" json:"status"`
	FilledQuantity    float64     `yaml:"filled_quantity" json:"filled_quantity"`
	RemainingQuantity float64     `yaml:"remaining_quantity" json:"remaining_quantity"`
	// Reason carries the rejection reason for REJECTED orders.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
	// Timestamp is the time of the last status change.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

// Open reports whether the order can still receive fills or be cancelled.
func (o *Order) Open() bool {
	return !o.Status.Terminal()
}
