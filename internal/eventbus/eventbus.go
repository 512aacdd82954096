// Package eventbus publishes domain events over NATS via Watermill,
// carrying a monotonically increasing sequence number per topic for
// consumer gap detection. It also holds the NATS command queue and KV, an
// in-process TTL store used for command-reply entries.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher publishes domain events to named topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// Bus is a Watermill-over-NATS publisher with per-topic sequence numbers.
type Bus struct {
	logger      *zap.Logger
	subjectPrefix string
	publisher   *nats.Publisher

	mu  sync.Mutex
	seq map[string]*int64
}

// Envelope wraps every published payload with its topic-scoped sequence
// number, so consumers can detect a gap and resynchronize.
type Envelope struct {
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New dials a Watermill NATS publisher against natsURL.
func New(logger *zap.Logger, natsURL, subjectPrefix string) (*Bus, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	publisher, err := nats.NewPublisher(nats.PublisherConfig{
		URL:       natsURL,
		Marshaler: nats.GobMarshaler{},
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.Timeout(5 * time.Second),
			natsgo.ReconnectWait(1 * time.Second),
		},
	}, wmLogger)
	if err != nil {
		return nil, err
	}
	return &Bus{logger: logger, subjectPrefix: subjectPrefix, publisher: publisher, seq: make(map[string]*int64)}, nil
}

func (b *Bus) counterFor(topic string) *int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.seq[topic]
	if !ok {
		var zero int64
		c = &zero
		b.seq[topic] = c
	}
	return c
}

// Publish sends payload to topic, stamped with the next sequence number
// for that topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	seq := atomic.AddInt64(b.counterFor(topic), 1)
	envelope := Envelope{Sequence: seq, Timestamp: time.Now(), Payload: raw}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	msg := wmmessage.NewMessage(watermill.NewUUID(), body)
	return b.publisher.Publish(b.subjectPrefix+topic, msg)
}

// Close releases the underlying NATS connection.
func (b *Bus) Close() error {
	return b.publisher.Close()
}
