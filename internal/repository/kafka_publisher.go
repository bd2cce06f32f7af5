package repository

import (
	"context"

	"BrentBreaks/internal/domain/models"
	pkgkafka "BrentBreaks/pkg/kafka"
)

// KafkaPublisher announces stored snapshots on a topic keyed by fingerprint.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishRun(ctx context.Context, n models.RunNotification) error {
	return p.producer.Publish(ctx, p.topic, []byte(n.Fingerprint), n)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops notifications; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishRun(context.Context, models.RunNotification) error { return nil }
func (NopPublisher) Close() error { return nil }
