// Package ordermanager is the single place orders are placed, cancelled,
// or replaced, and the feed demux that drives the order registry's state
// machine off exchange events.
package ordermanager

// EventKind enumerates the order lifecycle events this package emits.
type EventKind string

const (
	EventOrderPlaced    EventKind = "order_placed"
	EventOrderActive    EventKind = "order_active"
	EventOrderPartial   EventKind = "order_partial"
	EventOrderFilled    EventKind = "order_filled"
	EventOrderCancelled EventKind = "order_cancelled"
	EventOrderFailed    EventKind = "order_failed"
)

// Event is one emitted order lifecycle event, carrying a monotonically
// increasing sequence number for consumer gap detection.
type Event struct {
	Kind          EventKind
	Sequence      uint64
	ClientOrderID string
	AccountID     string
	Reason        string
}

// Emitter publishes order lifecycle events to the event bus.
type Emitter interface {
	Emit(Event)
}

// FeedStatus is the exchange-native order status the feed handler sees on
// an update event.
type FeedStatus string

const (
	FeedNew              FeedStatus = "NEW"
	FeedPartiallyFilled   FeedStatus = "PARTIALLY_FILLED"
	FeedFilled            FeedStatus = "FILLED"
	FeedCanceled          FeedStatus = "CANCELED"
	FeedExpired           FeedStatus = "EXPIRED"
	FeedRejected          FeedStatus = "REJECTED"
)

// FeedEvent is one exchange order-update event.
type FeedEvent struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          FeedStatus
	FillPrice       float64
	FillQty         float64
	Reason          string
}
