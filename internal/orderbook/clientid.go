package orderbook

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// typeShort maps an order type to the short tag embedded in a client order
// id, keeping the id within the 36-character budget.
func typeShort(t Type) string {
	switch t {
	case TypeMarket:
		return "mkt"
	case TypeLimit:
		return "lmt"
	case TypeStopMarket:
		return "stp"
	case TypeTakeProfitMarket:
		return "tpm"
	default:
		return "unk"
	}
}

// NewClientOrderID builds a client order id of the form
// <prefix><account[:8]>_<short-type>_<12 random hex>, recognizable as this
// engine's own and with the account prefix recoverable on cold start.
func NewClientOrderID(prefix, accountID string, t Type) (string, error) {
	acctPrefix := accountID
	if len(acctPrefix) > 8 {
		acctPrefix = acctPrefix[:8]
	}

	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(acctPrefix)
	b.WriteByte('_')
	b.WriteString(typeShort(t))
	b.WriteByte('_')
	b.WriteString(hex.EncodeToString(buf))

	id := b.String()
	if len(id) > 36 {
		id = id[:36]
	}
	return id, nil
}

// HasEnginePrefix reports whether a client order id was minted by this
// engine (vs. another trader on the same account), so the feed handler can
// ignore events that aren't ours.
func HasEnginePrefix(clientID, prefix string) bool {
	return strings.HasPrefix(clientID, prefix)
}

// AccountPrefixFromClientID recovers the 8-character account prefix
// embedded in a client order id, the fallback used on cold start when
// storage metadata for an order is unavailable.
func AccountPrefixFromClientID(clientID, enginePrefix string) string {
	rest := strings.TrimPrefix(clientID, enginePrefix)
	if i := strings.IndexByte(rest, '_'); i >= 0 {
		return rest[:i]
	}
	return ""
}
