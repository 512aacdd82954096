package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyCode(t *testing.T) {
	assert.Equal(t, KindTransient, ClassifyCode("RATE_LIMIT"))
	assert.Equal(t, KindCancelIgnorable, ClassifyCode("UNKNOWN_ORDER"))
	assert.Equal(t, KindFatal, ClassifyCode("MARGIN_INSUFFICIENT"))
	assert.Equal(t, KindFatal, ClassifyCode("SOME_NEW_CODE"))
}

func TestRateGateThrottlesAfterTwoConsecutiveErrors(t *testing.T) {
	g := NewRateGate(20)
	assert.False(t, g.Throttled())

	g.ObserveResult(true)
	assert.False(t, g.Throttled())

	g.ObserveResult(true)
	assert.True(t, g.Throttled())

	g.ObserveResult(false)
	assert.False(t, g.Throttled())
}

type fakeRaw struct {
	placeCalls int
	failTimes  int
	kind       ErrorKind
}

func (f *fakeRaw) Place(ctx context.Context, req PlaceRequest) (PlaceResponse, error) {
	f.placeCalls++
	if f.placeCalls <= f.failTimes {
		return PlaceResponse{}, &TransportError{Kind: f.kind, Err: errors.New("boom")}
	}
	return PlaceResponse{ExchangeOrderID: "EX1"}, nil
}

func (f *fakeRaw) Cancel(ctx context.Context, exchangeOrderID, symbol string) error { return nil }
func (f *fakeRaw) ServerTime(ctx context.Context) (time.Time, error)               { return time.Now(), nil }

func TestGatewayRetriesTransientThenSucceeds(t *testing.T) {
	raw := &fakeRaw{failTimes: 2, kind: KindTransient}
	gw := NewGateway(zap.NewNop(), raw, 100, time.Millisecond, 3)

	resp, err := gw.PlaceOrder(context.Background(), PlaceRequest{ClientOrderID: "c1", Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, "EX1", resp.ExchangeOrderID)
	assert.Equal(t, 3, raw.placeCalls)
}

func TestGatewayDoesNotRetryFatal(t *testing.T) {
	raw := &fakeRaw{failTimes: 99, kind: KindFatal}
	gw := NewGateway(zap.NewNop(), raw, 100, time.Millisecond, 3)

	_, err := gw.PlaceOrder(context.Background(), PlaceRequest{ClientOrderID: "c1", Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.Equal(t, 1, raw.placeCalls)
}
