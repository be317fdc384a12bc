package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer      messageWriter
	topicPrefix string
}

func NewKafkaPublisher(brokers []string, topicPrefix string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := json.Marshal(Envelope{
		ID:         uuid.New().String(),
		Type:       evt.Topic,
		OccurredAt: evt.OccurredAt.UTC(),
		Data:       evt.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Topic, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + evt.Topic,
		Key:   []byte(evt.Key),
		Value: value,
		Time:  evt.OccurredAt.UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
