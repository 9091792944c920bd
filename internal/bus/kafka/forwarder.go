// Package kafka forwards bus events to a Kafka topic so other service
// instances (and downstream consumers like push notification workers) see the
// same event stream the in-process bus carries.
package kafka

import (
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"farmchat/internal/bus"
	"farmchat/internal/domain"
)

// Forwarder implements bus.Publisher over a sarama synchronous producer.
// Forwarding is best-effort: a failed publish is logged, never propagated,
// because the in-process bus has already delivered locally.
type Forwarder struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

var _ bus.Publisher = (*Forwarder)(nil)

func NewForwarder(brokers []string, topic string, logger *slog.Logger) (*Forwarder, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 3
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Forwarder{producer: producer, topic: topic, logger: logger}, nil
}

func (f *Forwarder) PublishToConversation(conversationID string, ev domain.Event) {
	f.send("conversation:"+conversationID, ev)
}

func (f *Forwarder) PublishToUser(userID string, ev domain.Event) {
	f.send("user:"+userID, ev)
}

func (f *Forwarder) send(key string, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("kafka: marshal event", "err", err, "kind", ev.Kind)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	}
	if _, _, err := f.producer.SendMessage(msg); err != nil {
		f.logger.Error("kafka: publish event", "err", err, "key", key, "kind", ev.Kind)
	}
}

func (f *Forwarder) Close() error {
	if f.producer == nil {
		return nil
	}
	return f.producer.Close()
}
