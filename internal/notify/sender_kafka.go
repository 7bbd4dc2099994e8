package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"watchtower/internal/device/models"
)

// Producer is the subset of *kgo.Client used for delivery.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSender publishes notifications to a topic consumed by the push gateway.
// Records are keyed by user so one user's notifications stay ordered.
type KafkaSender struct {
	producer Producer
	topic    string
}

func NewKafkaSender(producer Producer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) Name() string { return "kafka" }

func (s *KafkaSender) Send(ctx context.Context, target models.Target, n Notification) (Receipt, error) {
	msg := newMessage(uuid.NewString(), target, n, time.Now())
	value, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal notification: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(n.UserID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "message_id", Value: []byte(msg.ID)},
		},
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return Receipt{}, fmt.Errorf("produce notification: %w", err)
	}
	return Receipt{
		Backend:     s.Name(),
		ID:          fmt.Sprintf("%s/%d/%d", record.Topic, record.Partition, record.Offset),
		DeliveredAt: time.Now(),
	}, nil
}
