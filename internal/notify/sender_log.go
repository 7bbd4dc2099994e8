package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"watchtower/internal/device/models"
)

// LogSender writes notifications to the log. It is the default backend for
// local runs and the last-resort fallback.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, target models.Target, n Notification) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{Backend: s.Name(), ID: uuid.NewString(), DeliveredAt: time.Now()}
	s.logger.InfoContext(ctx, "notification delivered",
		"backend", s.Name(),
		"user_id", n.UserID.String(),
		"device_id", target.DeviceID.String(),
		"title", n.Title,
		"receipt_id", receipt.ID,
	)
	return receipt, nil
}
