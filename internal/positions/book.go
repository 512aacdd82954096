// Package positions is the in-memory virtual position book: a pure data
// structure with no I/O, dual-indexed by account and by symbol.
package positions

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// AccountStatus is the account lifecycle state tracked alongside positions.
type AccountStatus string

const (
	AccountActive     AccountStatus = "active"
	AccountFrozen     AccountStatus = "frozen"
	AccountLiquidated AccountStatus = "liquidated"
)

// Rules are the per-account risk limits; zero values mean "use defaults".
type Rules struct {
	MaxLeverage            float64
	MaxNotionalPerTrade    float64
	MaxTotalExposure       float64
	LiquidationThreshold   float64
}

// Account is the cached account metadata kept alongside an account's
// positions.
type Account struct {
	ID                string
	Balance           float64
	MaintenanceRate   float64
	ADLThreshold      float64
	Status            AccountStatus
	Rules             Rules
}

// Position is a per-(account, symbol, side) virtual aggregate.
type Position struct {
	ID               string
	AccountID        string
	Symbol           string
	Side             symbolfmt.PositionSide
	EntryPrice       float64
	Quantity         float64
	Notional         float64
	Leverage         float64
	InitialMargin    float64
	LiquidationPrice float64
	MarkPrice        float64
	UnrealizedPNL    float64
}

type accountEntry struct {
	account   Account
	positions map[string]*Position // position id -> position
}

// Book is the position book: account_id -> {account, positions, rules},
// plus a reverse index symbol -> set of account ids.
type Book struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	entries        map[string]*accountEntry
	symbolAccounts map[string]map[string]struct{}
}

// New constructs an empty position book.
func New(logger *zap.Logger) *Book {
	return &Book{
		logger:         logger,
		entries:        make(map[string]*accountEntry),
		symbolAccounts: make(map[string]map[string]struct{}),
	}
}

// Load seeds an account's metadata and starting positions — used at
// cold-start recovery.
func (b *Book) Load(account Account, positions []*Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := &accountEntry{account: account, positions: make(map[string]*Position)}
	for _, p := range positions {
		entry.positions[p.ID] = p
		b.indexSymbolLocked(p.Symbol, account.ID)
	}
	b.entries[account.ID] = entry
}

func (b *Book) indexSymbolLocked(symbol, accountID string) {
	set, ok := b.symbolAccounts[symbol]
	if !ok {
		set = make(map[string]struct{})
		b.symbolAccounts[symbol] = set
	}
	set[accountID] = struct{}{}
}

func (b *Book) ensureEntryLocked(accountID string) *accountEntry {
	e, ok := b.entries[accountID]
	if !ok {
		e = &accountEntry{
			account:   Account{ID: accountID, Status: AccountActive},
			positions: make(map[string]*Position),
		}
		b.entries[accountID] = e
	}
	return e
}

// Add inserts a new position.
func (b *Book) Add(p *Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.ensureEntryLocked(p.AccountID)
	e.positions[p.ID] = p
	b.indexSymbolLocked(p.Symbol, p.AccountID)
}

// Remove deletes a position by id. The account entry (balance, rules) is
// always preserved even when its position set becomes empty — downstream
// balance/rule lookups must keep working after the last position closes.
// The symbol reverse index, by contrast, is garbage-collected once no
// account holds a position in that symbol anymore.
func (b *Book) Remove(accountID, positionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[accountID]
	if !ok {
		return
	}
	p, ok := e.positions[positionID]
	if !ok {
		return
	}
	delete(e.positions, positionID)

	stillHasSymbol := false
	for _, other := range e.positions {
		if other.Symbol == p.Symbol {
			stillHasSymbol = true
			break
		}
	}
	if !stillHasSymbol {
		if set, ok := b.symbolAccounts[p.Symbol]; ok {
			delete(set, accountID)
			if len(set) == 0 {
				delete(b.symbolAccounts, p.Symbol)
			}
		}
	}
}

// UpdateBalance sets an account's cached balance.
func (b *Book) UpdateBalance(accountID string, balance float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.ensureEntryLocked(accountID)
	e.account.Balance = balance
}

// Account returns a copy of the cached account metadata.
func (b *Book) Account(accountID string) (Account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[accountID]
	if !ok {
		return Account{}, false
	}
	return e.account, true
}

// SetAccount overwrites the cached account metadata (rules, status, etc).
func (b *Book) SetAccount(account Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.ensureEntryLocked(account.ID)
	e.account = account
}

// PositionPatch carries the fields UpdatePosition may mutate; zero-value
// fields are left untouched except where explicitly noted.
type PositionPatch struct {
	EntryPrice       *float64
	Quantity         *float64
	Notional         *float64
	Leverage         *float64
	InitialMargin    *float64
	LiquidationPrice *float64
	MarkPrice        *float64
	UnrealizedPNL    *float64
}

// UpdatePosition applies a patch to an existing position in place.
func (b *Book) UpdatePosition(accountID, positionID string, patch PositionPatch) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[accountID]
	if !ok {
		return false
	}
	p, ok := e.positions[positionID]
	if !ok {
		return false
	}
	if patch.EntryPrice != nil {
		p.EntryPrice = *patch.EntryPrice
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	if patch.Notional != nil {
		p.Notional = *patch.Notional
	}
	if patch.Leverage != nil {
		p.Leverage = *patch.Leverage
	}
	if patch.InitialMargin != nil {
		p.InitialMargin = *patch.InitialMargin
	}
	if patch.LiquidationPrice != nil {
		p.LiquidationPrice = *patch.LiquidationPrice
	}
	if patch.MarkPrice != nil {
		p.MarkPrice = *patch.MarkPrice
	}
	if patch.UnrealizedPNL != nil {
		p.UnrealizedPNL = *patch.UnrealizedPNL
	}
	return true
}

// FindPosition returns the position for (account, symbol, side), falling
// back to a base-asset-prefix match when the exact symbol isn't present —
// the mismatch guard for the long-observed symbol-format bug class.
func (b *Book) FindPosition(accountID, symbol string, side symbolfmt.PositionSide) (*Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[accountID]
	if !ok {
		return nil, false
	}

	for _, p := range e.positions {
		if p.Symbol == symbol && p.Side == side {
			return p, true
		}
	}

	base := symbolfmt.BaseAsset(symbol)
	for _, p := range e.positions {
		if p.Side == side && strings.HasPrefix(p.Symbol, base) {
			b.logger.Warn("position matched via base-asset fallback",
				zap.String("account_id", accountID),
				zap.String("requested_symbol", symbol),
				zap.String("matched_symbol", p.Symbol))
			return p, true
		}
	}
	return nil, false
}

// Positions returns every position currently held by an account.
func (b *Book) Positions(accountID string) []*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[accountID]
	if !ok {
		return nil
	}
	out := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out
}

// GetAccountsForSymbol returns every account id holding a position in
// symbol, via the reverse index.
func (b *Book) GetAccountsForSymbol(symbol string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.symbolAccounts[symbol]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for accountID := range set {
		out = append(out, accountID)
	}
	return out
}
