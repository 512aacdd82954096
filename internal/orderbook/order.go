// Package orderbook owns the canonical order record: its state machine and
// the multi-indexed registry the rest of the engine looks orders up through.
package orderbook

import (
	"time"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// Status is one of the order lifecycle states.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPlacing    Status = "placing"
	StatusActive     Status = "active"
	StatusCancelling Status = "cancelling"
	StatusFilled     Status = "filled"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
)

// Type is the exchange order type.
type Type string

const (
	TypeMarket            Type = "market"
	TypeLimit             Type = "limit"
	TypeStopMarket        Type = "stop_market"
	TypeTakeProfitMarket  Type = "take_profit_market"
)

// Origin identifies what caused an order to exist.
type Origin string

const (
	OriginManual     Origin = "manual"
	OriginChase      Origin = "chase"
	OriginScalper    Origin = "scalper"
	OriginTWAP       Origin = "twap"
	OriginTrailStop  Origin = "trail_stop"
	OriginBasket     Origin = "basket"
	OriginLiquidation Origin = "liquidation"
	OriginRecovered  Origin = "recovered"
)

// Order is the universal unit of work tracked by the registry.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string

	AccountID  string
	Symbol     string
	Side       symbolfmt.OrderSide
	Type       Type
	Quantity   float64
	LimitPrice float64
	StopPrice  float64
	ReduceOnly bool
	Leverage   float64
	Origin     Origin
	ParentID   string

	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time

	FilledQuantity  float64
	AvgFillPrice    float64
	LastFillPrice   float64
	LastFillQty     float64

	OnFill    func(o *Order, fillPrice, fillQty float64)
	OnCancel  func(o *Order, reason string)
	OnPartial func(o *Order)
}

// ApplyFill accumulates a weighted-average fill price and records the last
// fill's price/quantity. Callers are responsible for invoking OnFill.
func (o *Order) ApplyFill(price, qty float64) {
	total := o.AvgFillPrice*o.FilledQuantity + price*qty
	o.FilledQuantity += qty
	if o.FilledQuantity > 0 {
		o.AvgFillPrice = total / o.FilledQuantity
	}
	o.LastFillPrice = price
	o.LastFillQty = qty
	o.UpdatedAt = time.Now()
}

// validTransitions is the order state machine's allowed-edge table.
// Terminal states map to an empty slice: no transitions allowed.
var validTransitions = map[Status][]Status{
	StatusIdle:       {StatusPlacing},
	StatusPlacing:    {StatusActive, StatusFilled, StatusCancelled, StatusFailed},
	StatusActive:     {StatusCancelling, StatusFilled, StatusCancelled, StatusExpired},
	StatusCancelling: {StatusCancelled, StatusFilled, StatusExpired},
	StatusFilled:     {},
	StatusCancelled:  {},
	StatusExpired:    {},
	StatusFailed:     {},
}

// IsValidTransition reports whether from -> to is an allowed edge.
// transition(src, src) and transition(terminal, _) both return false.
func IsValidTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(validTransitions[s]) == 0
}
