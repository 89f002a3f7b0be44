package kafka

import (
	"context"
	"testing"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/infrastructure/mq"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaPublisher_SendsKeyAndHeaders(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		assert.Equal(t, `{"type":"session.created"}`, string(val))
		return nil
	})

	pub := NewPublisherFromProducer(sp)
	_, err := pub.Publish(context.Background(), mq.Message{
		Topic:   "chat.events",
		Key:     []byte("S1"),
		Value:   []byte(`{"type":"session.created"}`),
		Headers: map[string]string{"event_type": "session.created", " ": "skip"},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestSaramaPublisher_Rejects(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	pub := NewPublisherFromProducer(sp)

	_, err := pub.Publish(context.Background(), mq.Message{Value: []byte("x")})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, mq.Message{Topic: "chat.events"})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, pub.Close())
}

func TestSaramaPublisher_PropagatesBrokerError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewPublisherFromProducer(sp)
	_, err := pub.Publish(context.Background(), mq.Message{Topic: "chat.events", Value: []byte("x")})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestNewSaramaPublisher_NoBrokers(t *testing.T) {
	_, err := NewSaramaPublisher(PublisherConfig{})
	assert.Error(t, err)
}
