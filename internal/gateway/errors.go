package gateway

import "fmt"

// ErrorKind closes the set of ways a transport call can fail, so retry/fatal
// decisions are a pure function of the kind rather than string sniffing.
type ErrorKind int

const (
	// KindTransient covers network failures and a known set of retryable
	// exchange error codes (rate-limit, too-many-orders).
	KindTransient ErrorKind = iota
	// KindFatal covers margin insufficient, reduce-only rejected, and
	// quantity/notional below minimum. Never retried.
	KindFatal
	// KindCancelIgnorable covers unknown-order / already-cancelled
	// responses, coerced to a synthetic successful cancellation.
	KindCancelIgnorable
)

// TransportError is returned by every RawClient call that fails.
type TransportError struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (kind=%d code=%s): %v", e.Kind, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient reports whether retrying this call has any chance of success.
func (e *TransportError) Transient() bool { return e.Kind == KindTransient }

// retryableCodes and cancelIgnorableCodes classify exchange-native error
// codes; every other code is fatal (see ClassifyCode).
var retryableCodes = map[string]bool{
	"RATE_LIMIT":      true,
	"TOO_MANY_ORDERS": true,
}

var cancelIgnorableCodes = map[string]bool{
	"UNKNOWN_ORDER":       true,
	"ALREADY_CANCELLED":   true,
}

// ClassifyCode derives an ErrorKind from an exchange-native error code.
// Unrecognized codes are treated as fatal — an unknown failure mode should
// not be silently retried.
func ClassifyCode(code string) ErrorKind {
	if retryableCodes[code] {
		return KindTransient
	}
	if cancelIgnorableCodes[code] {
		return KindCancelIgnorable
	}
	return KindFatal
}
