package eventbus

import (
	"context"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// routerQueueGroup is the NATS queue group every router instance subscribes
// under, so commands load-balance across instances the way BLPOP distributes
// list pops across competing consumers.
const routerQueueGroup = "execcore-router"

type queuedCommand struct {
	queue   string
	payload []byte
}

// CommandQueue subscribes to one NATS subject per named command queue and
// funnels deliveries through a single channel, giving router.Router a
// blocking Pop across all of them at once.
type CommandQueue struct {
	logger *zap.Logger
	nc     *natsgo.Conn
	subs   []*natsgo.Subscription
	msgs   chan queuedCommand
}

// NewCommandQueue dials NATS and subscribes to subjectPrefix+name for every
// entry in queueNames.
func NewCommandQueue(logger *zap.Logger, natsURL, subjectPrefix string, queueNames []string) (*CommandQueue, error) {
	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.Timeout(5*time.Second),
		natsgo.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, err
	}

	q := &CommandQueue{logger: logger, nc: nc, msgs: make(chan queuedCommand, 256)}
	for _, name := range queueNames {
		name := name
		subject := subjectPrefix + name
		sub, err := nc.QueueSubscribe(subject, routerQueueGroup, func(msg *natsgo.Msg) {
			q.msgs <- queuedCommand{queue: name, payload: msg.Data}
		})
		if err != nil {
			nc.Close()
			return nil, err
		}
		q.subs = append(q.subs, sub)
	}
	return q, nil
}

// Pop blocks until a command arrives on any subscribed queue or ctx is
// cancelled.
func (q *CommandQueue) Pop(ctx context.Context) (queue string, payload []byte, ok bool) {
	select {
	case c := <-q.msgs:
		return c.queue, c.payload, true
	case <-ctx.Done():
		return "", nil, false
	}
}

// Close unsubscribes from every queue and releases the NATS connection.
func (q *CommandQueue) Close() error {
	for _, s := range q.subs {
		if err := s.Unsubscribe(); err != nil {
			q.logger.Warn("failed to unsubscribe command queue", zap.Error(err))
		}
	}
	return q.nc.Close()
}
