package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	EventMessageCreated = "message.created"
	EventMessageDeleted = "message.deleted"
	EventMessagePurged  = "message.purged"
	EventNotification   = "notification.requested"
)

// Event is the JSON value written to the topic.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Publisher sends domain events keyed for partitioning.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, data any) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes events to a single topic behind a circuit breaker so an
// unavailable broker fails fast instead of stalling callers.
type Producer struct {
	writer messageWriter
	topic  string
	cb     *gobreaker.CircuitBreaker
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(w, topic, log)
}

func newProducer(w messageWriter, topic string, log *zap.SugaredLogger) *Producer {
	st := gobreaker.Settings{
		Name:        "kafka:" + topic,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Producer{writer: w, topic: topic, cb: gobreaker.NewCircuitBreaker(st)}
}

func (p *Producer) Publish(ctx context.Context, key, eventType string, data any) error {
	b, err := json.Marshal(Event{Type: eventType, At: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, kafkago.Message{
			Key:   []byte(key),
			Value: b,
			Time:  time.Now(),
		})
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.writer.Close() }

// Nop discards events. Used when kafka.enabled is false.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
func (Nop) Close() error                                       { return nil }
