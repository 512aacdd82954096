// Package liquidation evaluates ADL tiers and issues reduce-only closes.
// Tier thresholds and the threshold-adjustment formula are taken verbatim
// from the source this system was distilled from, per the explicit
// authoritative-formula instruction for that Open Question.
package liquidation

import (
	"sort"

	"github.com/pms-engine/execcore/internal/positions"
)

// Tier is one ADL severity level.
type Tier struct {
	Name          string
	Threshold     float64
	CloseFraction float64
}

// Tiers are evaluated highest severity first.
var Tiers = []Tier{
	{Name: "TIER_3_CLOSE_ALL", Threshold: 0.95, CloseFraction: 1.00},
	{Name: "TIER_2_CLOSE_50", Threshold: 0.925, CloseFraction: 0.50},
	{Name: "TIER_1_CLOSE_30", Threshold: 0.90, CloseFraction: 0.30},
}

// baseThreshold is the tier table's own reference point (0.90); an
// account's configured liquidation threshold shifts every tier by the same
// offset from that reference.
const baseThreshold = 0.90

// adjustedThreshold applies the documented (non-obvious) relationship
// between an account's own liquidation_threshold and a tier's fixed
// threshold: never loosen a tier past its nominal value, only tighten it
// toward the account's own (lower) threshold.
func adjustedThreshold(tierThreshold, accountThreshold float64) float64 {
	adjusted := accountThreshold + (tierThreshold - baseThreshold)
	if adjusted < tierThreshold {
		return adjusted
	}
	return tierThreshold
}

// PriceLookup resolves a symbol's current mark price, falling back to the
// position's entry price when no tick has been seen yet (caller's
// responsibility, mirrored here via the ok return).
type PriceLookup func(symbol string) (mark float64, ok bool)

// Evaluation is the result of evaluating one account.
type Evaluation struct {
	Tier       Tier
	Ratio      float64
	Largest    *positions.Position
	AllPositions []*positions.Position
}

// Evaluate computes total unrealized PnL and notional across an account's
// positions using prices, derives equity/maintenance-margin/ratio, and
// returns the highest matching tier, or ok=false if none matches.
func Evaluate(book *positions.Book, prices PriceLookup, accountID string, maintRate float64) (Evaluation, bool) {
	account, ok := book.Account(accountID)
	if !ok {
		return Evaluation{}, false
	}

	pos := book.Positions(accountID)
	if len(pos) == 0 {
		return Evaluation{}, false
	}

	var totalUPNL, totalNotional float64
	for _, p := range pos {
		mark, ok := prices(p.Symbol)
		if !ok {
			mark = p.EntryPrice
		}
		var pnl float64
		if p.Side == "long" {
			pnl = (mark - p.EntryPrice) * p.Quantity
		} else {
			pnl = (p.EntryPrice - mark) * p.Quantity
		}
		totalUPNL += pnl
		totalNotional += p.Notional
	}

	equity := account.Balance + totalUPNL
	equityFloor := equity
	if equityFloor <= 0 {
		equityFloor = 1e-9
	}
	maintenanceMargin := totalNotional * maintRate
	ratio := maintenanceMargin / equityFloor

	threshold := account.Rules.LiquidationThreshold
	if threshold == 0 {
		threshold = baseThreshold
	}

	for _, tier := range Tiers {
		adj := adjustedThreshold(tier.Threshold, threshold)
		if ratio >= adj {
			largest := largestByNotional(pos)
			return Evaluation{Tier: tier, Ratio: ratio, Largest: largest, AllPositions: pos}, true
		}
	}

	return Evaluation{}, false
}

func largestByNotional(pos []*positions.Position) *positions.Position {
	sorted := append([]*positions.Position(nil), pos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Notional > sorted[j].Notional })
	return sorted[0]
}

// Targets returns the positions a tier's close fraction applies to: every
// open position for tier 3 (CloseFraction 1.0), only the largest-notional
// position for tiers 1 and 2.
func Targets(eval Evaluation) []*positions.Position {
	if eval.Tier.CloseFraction >= 1.0 {
		return eval.AllPositions
	}
	if eval.Largest == nil {
		return nil
	}
	return []*positions.Position{eval.Largest}
}
