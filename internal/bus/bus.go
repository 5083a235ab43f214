// Package bus is the internal engine→broadcast publish contract (spec §4.3 step 5, §4.6).
// The external pub/sub transport between the engine and live-broadcast servers is explicitly
// out of scope (spec §1); this package instead defines a small Go interface and backs it with
// watermill's in-process gochannel pubsub rather than a networked broker, so tickengine has a
// real publish boundary to broadcast while "one authoritative engine per simulation" still
// holds. Grounded on the teacher's WatermillEventBus
// (internal/architecture/cqrs/eventbus/watermill_adapter.go), trimmed to publish/subscribe only.
package bus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Envelope is one published message: a topic and its raw JSON payload.
type Envelope struct {
	Topic   string
	Payload []byte
}

// Publisher publishes envelopes onto the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber receives envelopes published to one exact topic name.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, error)
}

// Bus is the in-process Publisher+Subscriber backed by watermill's gochannel pubsub.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// New constructs a Bus. Persistent is false: tick-scoped fan-out has no replay requirement.
func New(logger *zap.Logger) *Bus {
	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
		Persistent:          false,
	}, wmLogger)
	return &Bus{pubSub: pubSub, logger: logger}
}

// Publish sends payload on topic.
func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(uuid.NewString(), payload)
	return b.pubSub.Publish(topic, msg)
}

// Subscribe returns a channel of envelopes for topic. The channel closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	msgs, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range msgs {
			select {
			case out <- Envelope{Topic: topic, Payload: msg.Payload}:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the underlying pubsub.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

var _ Publisher = (*Bus)(nil)
var _ Subscriber = (*Bus)(nil)
