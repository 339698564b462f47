// Package events publishes persisted messages to Kafka for downstream
// consumers (search indexing, notifications). Publishing is best-effort and
// never blocks the chat path.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
)

type Producer struct {
	writer *kafkago.Writer
	topic  string
}

// NewProducer returns nil when no brokers are configured; a nil Producer
// publishes nothing.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
	}
	return &Producer{writer: w, topic: topic}
}

func (p *Producer) PublishPersisted(ctx context.Context, m *domain.Message) error {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(map[string]any{
		"event":   "message.persisted",
		"message": m,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(m.RoomID),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
