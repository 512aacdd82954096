package orderbook

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweep timing (spec §4.4): placing orders stale after 30s, terminal orders
// removed 5 minutes after entering a terminal state.
const (
	PlacingStaleAfter   = 30 * time.Second
	TerminalRetainFor   = 5 * time.Minute
)

// Registry owns the canonical order record and every secondary index that
// points into it. All index maintenance happens through Register/Unregister
// so the indexes can never drift out of sync with the primary map.
type Registry struct {
	mu     sync.RWMutex
	logger *zap.Logger

	byClientID   map[string]*Order
	byExchangeID map[string]string          // exchange_order_id -> client_order_id
	byAccount    map[string]map[string]struct{}
	bySymbol     map[string]map[string]struct{}
	byParent     map[string]map[string]struct{}

	terminalSince map[string]time.Time
}

// NewRegistry constructs an empty order registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:        logger,
		byClientID:    make(map[string]*Order),
		byExchangeID:  make(map[string]string),
		byAccount:     make(map[string]map[string]struct{}),
		bySymbol:      make(map[string]map[string]struct{}),
		byParent:      make(map[string]map[string]struct{}),
		terminalSince: make(map[string]time.Time),
	}
}

func addToSet(index map[string]map[string]struct{}, key, clientID string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[clientID] = struct{}{}
}

func removeFromSet(index map[string]map[string]struct{}, key, clientID string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(index, key)
	}
}

// Register inserts an order and wires every secondary index.
func (r *Registry) Register(o *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byClientID[o.ClientOrderID] = o
	if o.ExchangeOrderID != "" {
		r.byExchangeID[o.ExchangeOrderID] = o.ClientOrderID
	}
	addToSet(r.byAccount, o.AccountID, o.ClientOrderID)
	addToSet(r.bySymbol, o.Symbol, o.ClientOrderID)
	addToSet(r.byParent, o.ParentID, o.ClientOrderID)
}

// Unregister removes an order and every secondary index entry for it.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(clientID)
}

func (r *Registry) unregisterLocked(clientID string) {
	o, ok := r.byClientID[clientID]
	if !ok {
		return
	}
	delete(r.byClientID, clientID)
	if o.ExchangeOrderID != "" {
		delete(r.byExchangeID, o.ExchangeOrderID)
	}
	removeFromSet(r.byAccount, o.AccountID, clientID)
	removeFromSet(r.bySymbol, o.Symbol, clientID)
	removeFromSet(r.byParent, o.ParentID, clientID)
	delete(r.terminalSince, clientID)
}

// LookupByClientID returns the order for a client order id, O(1).
func (r *Registry) LookupByClientID(clientID string) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byClientID[clientID]
	return o, ok
}

// LookupByExchangeID resolves an exchange order id through the reverse
// index and returns the order, O(1).
func (r *Registry) LookupByExchangeID(exchangeID string) (*Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clientID, ok := r.byExchangeID[exchangeID]
	if !ok {
		return nil, false
	}
	o, ok := r.byClientID[clientID]
	return o, ok
}

// UpdateExchangeID binds the exchange id assigned by a REST ack.
func (r *Registry) UpdateExchangeID(clientID, exchangeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byClientID[clientID]
	if !ok {
		return
	}
	if o.ExchangeOrderID != "" {
		delete(r.byExchangeID, o.ExchangeOrderID)
	}
	o.ExchangeOrderID = exchangeID
	r.byExchangeID[exchangeID] = clientID
}

// ByAccount returns a snapshot of client order ids for an account.
func (r *Registry) ByAccount(accountID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return setToSlice(r.byAccount[accountID])
}

// BySymbol returns a snapshot of client order ids for a symbol.
func (r *Registry) BySymbol(symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return setToSlice(r.bySymbol[symbol])
}

// ByParent returns a snapshot of client order ids owned by an algorithm id.
func (r *Registry) ByParent(parentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return setToSlice(r.byParent[parentID])
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// ApplyFill accumulates a weighted-average fill onto the order under lock.
func (r *Registry) ApplyFill(clientID string, price, qty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byClientID[clientID]
	if !ok {
		return
	}
	o.ApplyFill(price, qty)
}

// Transition moves an order to target if the edge is valid, bumping
// UpdatedAt on success. It returns false (without mutating) on an invalid
// edge — including transition(src, src) and any edge out of a terminal
// state — which makes duplicate terminal deliveries idempotent by
// construction: a second `filled` for an already-filled order simply fails
// this check and the caller must not re-apply fill side effects.
func (r *Registry) Transition(clientID string, target Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byClientID[clientID]
	if !ok {
		return false
	}
	if !IsValidTransition(o.Status, target) {
		r.logger.Debug("rejected order state transition",
			zap.String("client_order_id", clientID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(target)))
		return false
	}

	o.Status = target
	o.UpdatedAt = time.Now()
	if IsTerminal(target) {
		r.terminalSince[clientID] = o.UpdatedAt
	}
	return true
}

// Sweep performs the periodic housekeeping pass: placing orders older than
// PlacingStaleAfter are failed, and terminal orders older than
// TerminalRetainFor are unregistered. It returns the client ids that were
// swept to failed (for callers wanting to emit order_failed) and the ids
// that were removed entirely.
func (r *Registry) Sweep(now time.Time) (failed []string, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID, o := range r.byClientID {
		if o.Status == StatusPlacing && now.Sub(o.UpdatedAt) > PlacingStaleAfter {
			if IsValidTransition(o.Status, StatusFailed) {
				o.Status = StatusFailed
				o.UpdatedAt = now
				r.terminalSince[clientID] = now
				failed = append(failed, clientID)
			}
		}
	}

	for clientID, since := range r.terminalSince {
		if now.Sub(since) > TerminalRetainFor {
			r.unregisterLocked(clientID)
			removed = append(removed, clientID)
		}
	}

	return failed, removed
}

// Snapshot returns a shallow copy of every tracked order, for the
// open-orders reconciliation pass and the admin HTTP surface.
func (r *Registry) Snapshot() []*Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Order, 0, len(r.byClientID))
	for _, o := range r.byClientID {
		out = append(out, o)
	}
	return out
}
