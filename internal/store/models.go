// Package store is the sqlx/pgx-backed durable journal: virtual positions,
// trade executions, balance logs, and pending orders, per the engine's
// persistent state layout.
package store

import "time"

// PositionStatus is a virtual_positions row's lifecycle status.
type PositionStatus string

const (
	PositionOpen      PositionStatus = "open"
	PositionClosed    PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
	PositionTakenOver PositionStatus = "taken_over"
)

// VirtualPosition mirrors the virtual_positions table.
type VirtualPosition struct {
	ID               string     `db:"id"`
	AccountID        string     `db:"account_id"`
	Symbol           string     `db:"symbol"`
	Side             string     `db:"side"`
	EntryPrice       float64    `db:"entry_price"`
	Quantity         float64    `db:"quantity"`
	Notional         float64    `db:"notional"`
	Leverage         float64    `db:"leverage"`
	Margin           float64    `db:"margin"`
	LiquidationPrice float64    `db:"liquidation_price"`
	Status           PositionStatus `db:"status"`
	RealizedPNL      *float64   `db:"realized_pnl"`
	OpenedAt         time.Time  `db:"opened_at"`
	ClosedAt         *time.Time `db:"closed_at"`
}

// TradeAction is a trade_executions row's action classification.
type TradeAction string

const (
	TradeOpen      TradeAction = "open"
	TradeClose     TradeAction = "close"
	TradeAdd       TradeAction = "add"
	TradeLiquidate TradeAction = "liquidate"
)

// TradeStatus is a trade_executions row's status.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeFailed    TradeStatus = "failed"
	TradeCancelled TradeStatus = "cancelled"
)

// TradeExecution mirrors the trade_executions table.
type TradeExecution struct {
	ID              string      `db:"id"`
	AccountID       string      `db:"account_id"`
	PositionID      *string     `db:"position_id"`
	ExchangeOrderID *string     `db:"exchange_order_id"`
	ClientOrderID   *string     `db:"client_order_id"`
	Symbol          string      `db:"symbol"`
	Side            string      `db:"side"`
	Type            string      `db:"type"`
	Price           float64     `db:"price"`
	Quantity        float64     `db:"quantity"`
	Notional        float64     `db:"notional"`
	Fee             float64     `db:"fee"`
	RealizedPNL     *float64    `db:"realized_pnl"`
	Action          TradeAction `db:"action"`
	Origin          string      `db:"origin"`
	Status          TradeStatus `db:"status"`
	Signature       string      `db:"signature"`
	Timestamp       time.Time   `db:"timestamp"`
}

// BalanceLog mirrors the balance_logs table.
type BalanceLog struct {
	ID            string    `db:"id"`
	AccountID     string    `db:"account_id"`
	BalanceBefore float64   `db:"balance_before"`
	BalanceAfter  float64   `db:"balance_after"`
	ChangeAmount  float64   `db:"change_amount"`
	Reason        string    `db:"reason"`
	TradeID       *string   `db:"trade_id"`
	Timestamp     time.Time `db:"timestamp"`
}

// PendingOrderStatus is a pending_orders row's status.
type PendingOrderStatus string

const (
	PendingOrderPending   PendingOrderStatus = "pending"
	PendingOrderFilled    PendingOrderStatus = "filled"
	PendingOrderCancelled PendingOrderStatus = "cancelled"
)

// PendingOrder mirrors the pending_orders table, keyed by client order id.
type PendingOrder struct {
	ID              string             `db:"id"`
	AccountID       string             `db:"account_id"`
	Symbol          string             `db:"symbol"`
	Side            string             `db:"side"`
	Type            string             `db:"type"`
	Price           float64            `db:"price"`
	Quantity        float64            `db:"quantity"`
	Leverage        float64            `db:"leverage"`
	ExchangeOrderID *string            `db:"exchange_order_id"`
	Status          PendingOrderStatus `db:"status"`
	CreatedAt       time.Time          `db:"created_at"`
	FilledAt        *time.Time         `db:"filled_at"`
	CancelledAt     *time.Time         `db:"cancelled_at"`
}
