// Package riskmath holds the pure PnL, margin, and liquidation-price
// arithmetic shared by the validator, the liquidation engine, and the risk
// engine. Nothing in this package touches I/O or holds state.
package riskmath

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Side is a position side.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// LargeRatioSentinel is returned by MarginUsageRatio when equity is
// non-positive — the ratio is otherwise undefined.
const LargeRatioSentinel = 999.0

// PNL computes realized/unrealized profit and loss for a side.
func PNL(side Side, entry, close, qty float64) float64 {
	if side == Long {
		return (close - entry) * qty
	}
	return (entry - close) * qty
}

// AvailableMarginResult is the result of ComputeAvailableMargin.
type AvailableMarginResult struct {
	Equity            float64
	MaintenanceMargin float64
	AvailableMargin   float64
}

// ComputeAvailableMargin computes equity, maintenance margin, and available
// margin, crediting an opposite position's notional and PnL when present.
func ComputeAvailableMargin(balance, maintRate, totalUPNL, totalNotional, oppositeNotional, oppositePNL float64) AvailableMarginResult {
	equity := balance + totalUPNL + oppositePNL
	maintenanceMargin := (totalNotional - oppositeNotional) * maintRate
	return AvailableMarginResult{
		Equity:            equity,
		MaintenanceMargin: maintenanceMargin,
		AvailableMargin:   equity - maintenanceMargin,
	}
}

// MarginUsageRatio returns (used+additional)/equity, or LargeRatioSentinel
// when equity is non-positive.
func MarginUsageRatio(equity, used, additional float64) float64 {
	if equity <= 0 {
		return LargeRatioSentinel
	}
	return (used + additional) / equity
}

// ComputeMargin is notional/leverage, leverage floored at 1.
func ComputeMargin(notional, leverage float64) float64 {
	if leverage < 1 {
		leverage = 1
	}
	return notional / leverage
}

// ComputeMarginRatio is maintenanceMargin/equity, with the same sentinel
// behavior as MarginUsageRatio when equity is non-positive.
func ComputeMarginRatio(maintenanceMargin, equity float64) float64 {
	if equity <= 0 {
		return LargeRatioSentinel
	}
	return maintenanceMargin / equity
}

// DefaultMaintenanceRate is used when a caller has no account-specific rate.
const DefaultMaintenanceRate = 0.005

// ApproxLiquidationPrice derives the mark price at which unrealized loss
// would consume (1-maintRate) of the position's margin.
func ApproxLiquidationPrice(side Side, entry, qty, margin float64, maintRate float64) float64 {
	if maintRate <= 0 {
		maintRate = DefaultMaintenanceRate
	}
	if qty == 0 {
		return entry
	}
	lossThreshold := margin * (1 - maintRate)
	delta := lossThreshold / qty
	if side == Long {
		return entry - delta
	}
	return entry + delta
}

// TradeSignatureInput carries the fields hashed into a trade signature.
type TradeSignatureInput struct {
	AccountID    string
	Action       string
	PositionID   string
	Symbol       string
	Side         string
	Quantity     float64
	TimestampMs  int64
	Nonce        string
}

// TradeSignature hashes the given fields into a SHA-256 hex digest, used as
// a dedup key for persisted trade rows. The nonce is supplied by the caller
// (typically a fresh ksuid) so this function stays pure.
func TradeSignature(in TradeSignatureInput) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%.10f|%d|%s",
		in.AccountID, in.Action, in.PositionID, in.Symbol, in.Side,
		in.Quantity, in.TimestampMs, in.Nonce)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
