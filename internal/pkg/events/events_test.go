package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *captureWriter) Close() error { return nil }

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "")
	assert.Error(t, err)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, topicPrefix: "payfox."}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), Event{
		Topic:      TopicPayoutCompleted,
		Key:        "affiliate-7",
		OccurredAt: at,
		Data:       map[string]string{"payout_id": "p1"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "payfox.payout.completed", msg.Topic)
	assert.Equal(t, []byte("affiliate-7"), msg.Key)

	var env struct {
		ID         string            `json:"id"`
		Type       string            `json:"type"`
		OccurredAt time.Time         `json:"occurred_at"`
		Data       map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, TopicPayoutCompleted, env.Type)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.Equal(t, "p1", env.Data["payout_id"])
}

func TestEmit_SwallowsErrors(t *testing.T) {
	p := &KafkaPublisher{writer: &captureWriter{err: errors.New("broker down")}}
	Emit(context.Background(), p, Event{Topic: TopicFraudAlert})
	Emit(context.Background(), nil, Event{Topic: TopicFraudAlert})

	rec := &Recorder{}
	Emit(context.Background(), rec, Event{Topic: TopicFraudAlert, Key: "1"})
	got := rec.Events(TopicFraudAlert)
	require.Len(t, got, 1)
	assert.False(t, got[0].OccurredAt.IsZero())
}
