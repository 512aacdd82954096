// Package validator runs the seven-check pre-trade gate over a proposed
// order. No state is mutated by validation.
package validator

import (
	"github.com/pms-engine/execcore/internal/positions"
	"github.com/pms-engine/execcore/internal/riskmath"
	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// FindingKind enumerates the reasons a validation can fail.
type FindingKind string

const (
	FindingAccountNotFound   FindingKind = "account_not_found"
	FindingAccountNotActive  FindingKind = "account_not_active"
	FindingNoMarketPrice     FindingKind = "no_market_price"
	FindingLeverageExceeded  FindingKind = "leverage_exceeded"
	FindingNotionalExceeded  FindingKind = "notional_exceeded"
	FindingExposureExceeded  FindingKind = "exposure_exceeded"
	FindingMarginInsufficient FindingKind = "margin_insufficient"
)

// Computed carries the intermediate values the caller may want to surface
// (e.g. to a `validate` command reply) alongside the pass/fail result.
type Computed struct {
	Notional          float64
	Leverage          float64
	NewExposure       float64
	AvailableMargin   float64
	MarginUsageRatio  float64
}

// Result is the outcome of Validate: never mutates state, and collects
// every finding from the checks it reaches rather than stopping at the
// first. An unknown account or a missing market price ends validation
// early, so the later checks are not run in those cases.
type Result struct {
	Valid    bool
	Findings []FindingKind
	Computed Computed
}

// PriceLookup resolves a symbol's current mid price, used for notional and
// margin math. Returns ok=false when no tick has been seen yet.
type PriceLookup func(symbol string) (mid float64, ok bool)

// DefaultRules mirror the engine-wide defaults applied when an account has
// no account-specific risk rules configured.
var DefaultRules = positions.Rules{
	MaxLeverage:          100,
	MaxNotionalPerTrade:  200,
	MaxTotalExposure:     500,
	LiquidationThreshold: 0.90,
}

func rulesOrDefault(r positions.Rules) positions.Rules {
	out := r
	if out.MaxLeverage == 0 {
		out.MaxLeverage = DefaultRules.MaxLeverage
	}
	if out.MaxNotionalPerTrade == 0 {
		out.MaxNotionalPerTrade = DefaultRules.MaxNotionalPerTrade
	}
	if out.MaxTotalExposure == 0 {
		out.MaxTotalExposure = DefaultRules.MaxTotalExposure
	}
	if out.LiquidationThreshold == 0 {
		out.LiquidationThreshold = DefaultRules.LiquidationThreshold
	}
	return out
}

// Validate runs the seven sequential checks against book/prices for a
// proposed (accountID, symbol, side, quantity, leverage) trade.
func Validate(book *positions.Book, prices PriceLookup, accountID, symbol string, side symbolfmt.PositionSide, quantity, leverage float64) Result {
	var findings []FindingKind

	// 1. Account exists in book.
	account, ok := book.Account(accountID)
	if !ok {
		return Result{Valid: false, Findings: []FindingKind{FindingAccountNotFound}}
	}

	// 2. Account status is active.
	if account.Status != positions.AccountActive {
		findings = append(findings, FindingAccountNotActive)
	}

	// 3. Price available from market data.
	mid, ok := prices(symbol)
	if !ok {
		findings = append(findings, FindingNoMarketPrice)
		return Result{Valid: false, Findings: findings}
	}

	rules := rulesOrDefault(account.Rules)
	notional := quantity * mid

	// 4. leverage <= rules.max_leverage.
	if leverage > rules.MaxLeverage {
		findings = append(findings, FindingLeverageExceeded)
	}

	// 5. notional <= rules.max_notional_per_trade.
	if notional > rules.MaxNotionalPerTrade {
		findings = append(findings, FindingNotionalExceeded)
	}

	// Opposite-side credit: an existing position on the other side nets
	// against new exposure and contributes its own PnL/notional to margin.
	opposite, hasOpposite := book.FindPosition(accountID, symbol, symbolfmt.OppositePositionSide(side))
	var oppositeNotional, oppositePNL float64
	if hasOpposite {
		oppositeNotional = opposite.Notional
		oppositePNL = opposite.UnrealizedPNL
	}

	// Exposure and margin are account-wide: every open position
	// contributes its notional/PnL, and its margin unless it is the
	// opposite same-symbol leg (already credited above).
	all := book.Positions(accountID)
	var totalNotional, totalUPNL, usedMargin float64
	for _, p := range all {
		totalNotional += p.Notional
		totalUPNL += p.UnrealizedPNL
		if hasOpposite && p.ID == opposite.ID {
			continue
		}
		usedMargin += p.InitialMargin
	}

	currentExposure := totalNotional - oppositeNotional
	newExposure := currentExposure + notional
	if newExposure < 0 {
		newExposure = 0
	}

	// 6. new-plus-current exposure (net of opposite) <= max_total_exposure.
	if newExposure > rules.MaxTotalExposure {
		findings = append(findings, FindingExposureExceeded)
	}

	// 7. Available margin covers notional/leverage, and usage ratio < 0.98.
	avail := riskmath.ComputeAvailableMargin(account.Balance, account.MaintenanceRate, totalUPNL, totalNotional+notional, oppositeNotional, oppositePNL)
	needed := riskmath.ComputeMargin(notional, leverage)
	ratio := riskmath.MarginUsageRatio(avail.Equity, usedMargin, needed)

	if avail.AvailableMargin < needed || ratio >= 0.98 {
		findings = append(findings, FindingMarginInsufficient)
	}

	return Result{
		Valid:    len(findings) == 0,
		Findings: findings,
		Computed: Computed{
			Notional:         notional,
			Leverage:         leverage,
			NewExposure:      newExposure,
			AvailableMargin:  avail.AvailableMargin,
			MarginUsageRatio: ratio,
		},
	}
}
