package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "vouch/pkg/domain"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		p.records = append(p.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func TestKafkaPublisherKeysBySubject(t *testing.T) {
	prod := &fakeProducer{}
	pub := newKafkaPublisher(prod, "activity", nil)
	event := Event{
		ID:          id.NewEventID(),
		SubjectID:   id.NewSubjectID(),
		Type:        TypeVerificationExpired,
		Description: "Passport verification expired",
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, prod.records, 1)

	rec := prod.records[0]
	assert.Equal(t, "activity", rec.Topic)
	assert.Equal(t, event.SubjectID.String(), string(rec.Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, TypeVerificationExpired, decoded["activity_type"])
}

func TestKafkaPublisherOpensCircuit(t *testing.T) {
	prod := &fakeProducer{err: errors.New("no brokers")}
	breaker := NewCircuitBreaker(2, time.Minute)
	pub := newKafkaPublisher(prod, "activity", breaker)
	event := Event{SubjectID: id.NewSubjectID(), Type: "t", Description: "d"}

	assert.Error(t, pub.Publish(context.Background(), event))
	assert.Error(t, pub.Publish(context.Background(), event))
	assert.ErrorIs(t, pub.Publish(context.Background(), event), ErrCircuitOpen)
	assert.Len(t, prod.records, 2)
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
