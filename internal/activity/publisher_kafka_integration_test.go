//go:build integration

package activity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"vouch/internal/platform/config"
	"vouch/internal/platform/kafka"
	id "vouch/pkg/domain"
	"vouch/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	cfg    config.KafkaConfig
	client *kgo.Client
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	broker := containers.GetManager().GetKafka(s.T())
	s.cfg = config.KafkaConfig{
		Brokers:           broker.Brokers,
		ActivityTopic:     "vouch.activity.test",
		Partitions:        1,
		ReplicationFactor: 1,
	}
	client, err := kafka.NewClient(s.cfg)
	s.Require().NoError(err)
	s.client = client

	ctx := context.Background()
	s.Require().NoError(kafka.EnsureTopic(ctx, client, s.cfg.ActivityTopic, s.cfg.Partitions, s.cfg.ReplicationFactor))
	// a second call must tolerate the existing topic
	s.Require().NoError(kafka.EnsureTopic(ctx, client, s.cfg.ActivityTopic, s.cfg.Partitions, s.cfg.ReplicationFactor))
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *KafkaPublisherSuite) TestPublishedEventIsKeyedBySubject() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := Event{
		ID:          id.NewEventID(),
		SubjectID:   id.NewSubjectID(),
		Type:        TypeBiometricVerification,
		Description: "Biometric verification verified for Face",
		Metadata:    map[string]any{"kind": "biometric"},
		CreatedAt:   time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	publisher := NewKafkaPublisher(s.client, s.cfg.ActivityTopic, NewCircuitBreaker(3, time.Minute))
	s.Require().NoError(publisher.Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(s.cfg.ActivityTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var found *kgo.Record
	for found == nil {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "event never arrived")
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == event.SubjectID.String() {
				found = r
			}
		})
	}

	s.Require().Len(found.Headers, 1)
	s.Equal("activity_type", found.Headers[0].Key)
	s.Equal(TypeBiometricVerification, string(found.Headers[0].Value))

	var decoded Event
	s.Require().NoError(json.Unmarshal(found.Value, &decoded))
	s.Equal(event.ID, decoded.ID)
	s.Equal(event.Description, decoded.Description)
	s.True(event.CreatedAt.Equal(decoded.CreatedAt))
}
