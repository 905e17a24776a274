package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrCircuitOpen is returned while the publisher is shedding publishes.
var ErrCircuitOpen = errors.New("activity publisher circuit open")

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher mirrors events to a Kafka topic, keyed by subject so a
// subject's events stay ordered within one partition.
type KafkaPublisher struct {
	producer producer
	topic    string
	breaker  *CircuitBreaker
}

func NewKafkaPublisher(client *kgo.Client, topic string, breaker *CircuitBreaker) *KafkaPublisher {
	return newKafkaPublisher(client, topic, breaker)
}

func newKafkaPublisher(p producer, topic string, breaker *CircuitBreaker) *KafkaPublisher {
	if breaker == nil {
		breaker = NewCircuitBreaker(0, 0)
	}
	return &KafkaPublisher{producer: p, topic: topic, breaker: breaker}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.SubjectID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "activity_type", Value: []byte(event.Type)},
		},
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		return fmt.Errorf("produce activity event: %w", err)
	}
	p.breaker.RecordSuccess()
	return nil
}
