package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	commands []struct {
		queue string
		raw   []byte
	}
	i int
}

func (f *fakeSource) Pop(ctx context.Context) (string, []byte, bool) {
	if f.i >= len(f.commands) {
		return "", nil, false
	}
	c := f.commands[f.i]
	f.i++
	return c.queue, c.raw, true
}

type fakeStore struct {
	values map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{values: make(map[string][]byte)} }

func (f *fakeStore) Set(key string, value []byte, ttl time.Duration) {
	f.values[key] = value
}

func TestDispatchWritesReplyForKnownQueue(t *testing.T) {
	reply := newFakeStore()
	r := New(zap.NewNop(), &fakeSource{}, reply)
	r.Register("trade", func(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
		return map[string]interface{}{"clientOrderId": "abc"}, nil
	})

	raw := []byte(`{"requestId":"req-1","symbol":"BTC/USDT","side":"long"}`)
	r.dispatch(context.Background(), "trade", raw)

	body, ok := reply.values[resultKey("req-1")]
	require.True(t, ok)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "abc", result["clientOrderId"])
	assert.Equal(t, true, result["success"])
}

func TestDispatchUnknownQueueRepliesFailure(t *testing.T) {
	reply := newFakeStore()
	r := New(zap.NewNop(), &fakeSource{}, reply)

	raw := []byte(`{"requestId":"req-2"}`)
	r.dispatch(context.Background(), "no_such_queue", raw)

	body := reply.values[resultKey("req-2")]
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "unknown queue")
}

func TestDispatchMissingRequestIDDropsSilently(t *testing.T) {
	reply := newFakeStore()
	r := New(zap.NewNop(), &fakeSource{}, reply)
	r.Register("trade", func(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})

	r.dispatch(context.Background(), "trade", []byte(`not json`))
	assert.Empty(t, reply.values)
}

func TestInvokeRecoversHandlerPanic(t *testing.T) {
	reply := newFakeStore()
	r := New(zap.NewNop(), &fakeSource{}, reply)
	r.Register("trade", func(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
		panic("boom")
	})

	result := r.invoke(context.Background(), "trade", []byte(`{"requestId":"req-3"}`))
	assert.Equal(t, false, result["success"])
	assert.Contains(t, fmt.Sprint(result["error"]), "internal error")
}

func TestInvokeHandlerErrorProducesFailureReply(t *testing.T) {
	reply := newFakeStore()
	r := New(zap.NewNop(), &fakeSource{}, reply)
	r.Register("trade", func(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
		return nil, fmt.Errorf("rejected")
	})

	result := r.invoke(context.Background(), "trade", []byte(`{"requestId":"req-4"}`))
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "rejected", result["error"])
}

func TestNormalizeRewritesSymbolAndSide(t *testing.T) {
	raw := []byte(`{"symbol":"BTC/USDT","side":"long","quantity":1}`)
	out, err := normalize(raw)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Equal(t, "BTCUSDT", fields["symbol"])
	assert.Equal(t, "buy", fields["side"])
}

func TestNormalizeRewritesLevelSides(t *testing.T) {
	raw := []byte(`{"symbol":"ETH/USDT","side":"short","levels":[{"price":100,"side":"short"},{"price":101,"side":"sell"}]}`)
	out, err := normalize(raw)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &fields))
	levels := fields["levels"].([]interface{})
	for _, lvl := range levels {
		m := lvl.(map[string]interface{})
		assert.Equal(t, "sell", m["side"])
	}
}

func TestRunDrainsSourceUntilExhausted(t *testing.T) {
	reply := newFakeStore()
	source := &fakeSource{commands: []struct {
		queue string
		raw   []byte
	}{
		{queue: "trade", raw: []byte(`{"requestId":"r1"}`)},
		{queue: "trade", raw: []byte(`{"requestId":"r2"}`)},
	}}
	r := New(zap.NewNop(), source, reply)
	var calls int
	r.Register("trade", func(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{}, nil
	})

	r.Run(context.Background())
	assert.Equal(t, 2, calls)
	assert.Len(t, reply.values, 2)
}
