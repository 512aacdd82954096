// Package symbolfmt centralizes the symbol and side normalization that the
// gateway, the command router, and market-data subscriptions each need at
// their boundary. Internal state is always exchange-native joined form;
// every boundary converts in exactly one direction through this package.
package symbolfmt

import "strings"

// knownQuoteSuffixes lists quote assets the base-asset fallback strips when
// matching a position across symbol-format mismatches.
var knownQuoteSuffixes = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB"}

// Join converts a slashed symbol ("BTC/USDT") to exchange-native joined
// form ("BTCUSDT"). A symbol with no slash passes through unchanged.
func Join(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// BaseAsset strips a known quote-asset suffix (or a slash separator) from a
// symbol, returning just the base asset. Used as a fallback match when a
// position's symbol format doesn't line up exactly with a market-data
// symbol — an observed bug class this package exists to centralize.
func BaseAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 {
		return symbol[:i]
	}
	upper := strings.ToUpper(symbol)
	for _, suffix := range knownQuoteSuffixes {
		if strings.HasSuffix(upper, suffix) && len(upper) > len(suffix) {
			return symbol[:len(symbol)-len(suffix)]
		}
	}
	return symbol
}

// PositionSide is the position-book vocabulary: long/short.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// OrderSide is the exchange-native vocabulary: buy/sell.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// ToOrderSide converts external long/short or buy/sell spelling into the
// exchange-native buy/sell form. Unrecognized input passes through
// lower-cased, letting callers surface a validation error themselves.
func ToOrderSide(side string) OrderSide {
	switch strings.ToLower(side) {
	case "long", "buy":
		return OrderBuy
	case "short", "sell":
		return OrderSell
	default:
		return OrderSide(strings.ToLower(side))
	}
}

// ToPositionSide converts a buy/sell order side into the long/short
// position-book vocabulary.
func ToPositionSide(side OrderSide) PositionSide {
	if side == OrderBuy {
		return PositionLong
	}
	return PositionShort
}

// Opposite returns the other order side.
func Opposite(side OrderSide) OrderSide {
	if side == OrderBuy {
		return OrderSell
	}
	return OrderBuy
}

// OppositePositionSide returns the other position side.
func OppositePositionSide(side PositionSide) PositionSide {
	if side == PositionLong {
		return PositionShort
	}
	return PositionLong
}
