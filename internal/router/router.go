// Package router consumes commands from named external queues and
// dispatches each to a registered handler, writing the result back to a
// per-request reply key.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/symbolfmt"
)

// ReplyTTL is how long a reply key survives before eviction.
const ReplyTTL = 30 * time.Second

// Handler processes one command payload and returns the reply body.
type Handler func(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error)

// CommandSource yields the next command off any of the router's queues,
// blocking until one is available or the context is cancelled.
type CommandSource interface {
	Pop(ctx context.Context) (queue string, payload []byte, ok bool)
}

// ReplyStore is the key/value side of the event bus, used for reply keys.
type ReplyStore interface {
	Set(key string, value []byte, ttl time.Duration)
}

// envelope is the set of fields every command payload is expected to carry.
type envelope struct {
	RequestID    string `json:"requestId"`
	SubAccountID string `json:"subAccountId"`
}

// Router dispatches queue commands to handlers and writes replies.
type Router struct {
	logger   *zap.Logger
	source   CommandSource
	reply    ReplyStore
	handlers map[string]Handler
}

// New constructs an empty router; call Register for each queue name before Run.
func New(logger *zap.Logger, source CommandSource, reply ReplyStore) *Router {
	return &Router{
		logger:   logger,
		source:   source,
		reply:    reply,
		handlers: make(map[string]Handler),
	}
}

// Register binds a queue name to its handler. Calling Register twice for
// the same queue overwrites the prior handler.
func (r *Router) Register(queue string, h Handler) {
	r.handlers[queue] = h
}

// Run drains the command source until ctx is cancelled, dispatching each
// command to its handler and writing the reply. A missing queue/handler or
// a handler panic/error both produce a {success:false, error} reply rather
// than aborting the loop.
func (r *Router) Run(ctx context.Context) {
	for {
		queue, raw, ok := r.source.Pop(ctx)
		if !ok {
			return
		}
		r.dispatch(ctx, queue, raw)
	}
}

func (r *Router) dispatch(ctx context.Context, queue string, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.RequestID == "" {
		r.logger.Warn("command payload has no requestId, dropping", zap.String("queue", queue), zap.Error(err))
		return
	}

	result := r.invoke(ctx, queue, raw)
	body, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("failed to marshal command reply", zap.String("queue", queue), zap.Error(err))
		return
	}
	r.reply.Set(resultKey(env.RequestID), body, ReplyTTL)
}

func (r *Router) invoke(ctx context.Context, queue string, raw []byte) (result map[string]interface{}) {
	handler, ok := r.handlers[queue]
	if !ok {
		return map[string]interface{}{"success": false, "error": fmt.Sprintf("unknown queue %q", queue)}
	}

	normalized, err := normalize(raw)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("command handler panicked", zap.String("queue", queue), zap.Any("recover", rec))
			result = map[string]interface{}{"success": false, "error": fmt.Sprintf("internal error: %v", rec)}
		}
	}()

	out, err := handler(ctx, normalized)
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	if _, has := out["success"]; !has {
		out["success"] = true
	}
	return out
}

// normalize rewrites a command payload's symbol/side fields into
// exchange-native joined/buy-sell form before the handler ever sees it,
// accepting long/short and slashed symbols from callers.
func normalize(raw []byte) (json.RawMessage, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid command payload: %w", err)
	}

	if symbol, ok := fields["symbol"].(string); ok {
		fields["symbol"] = symbolfmt.Join(symbol)
	}
	if side, ok := fields["side"].(string); ok {
		fields["side"] = string(symbolfmt.ToOrderSide(side))
	}
	if levels, ok := fields["levels"].([]interface{}); ok {
		for _, lvl := range levels {
			if m, ok := lvl.(map[string]interface{}); ok {
				if s, ok := m["side"].(string); ok {
					m["side"] = string(symbolfmt.ToOrderSide(s))
				}
			}
		}
	}

	return json.Marshal(fields)
}

func resultKey(requestID string) string {
	return "result_of:" + requestID
}
