package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"watchtower/internal/device/models"
)

const outboxKey = "watchtower:notify:outbox"

// OutboxSender queues notifications on a Redis list for a separate relay to
// drain. Used as the fallback while the primary backend's circuit is open.
type OutboxSender struct {
	client redis.Cmdable
	key    string
}

func NewOutboxSender(client redis.Cmdable) *OutboxSender {
	return &OutboxSender{client: client, key: outboxKey}
}

func (s *OutboxSender) Name() string { return "redis" }

func (s *OutboxSender) Send(ctx context.Context, target models.Target, n Notification) (Receipt, error) {
	msg := newMessage(uuid.NewString(), target, n, time.Now())
	value, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, value).Err(); err != nil {
		return Receipt{}, fmt.Errorf("queue notification: %w", err)
	}
	return Receipt{Backend: s.Name(), ID: msg.ID, DeliveredAt: time.Now()}, nil
}
