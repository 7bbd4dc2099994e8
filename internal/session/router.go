package session

import (
	"context"
	"log/slog"
	"sync"

	"watchtower/internal/device/models"
	"watchtower/internal/notify"
	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
	"watchtower/pkg/platform/audit"
)

// Outcome is the result of one dispatch.
type Outcome struct {
	Receipt notify.Receipt
	Err     error
}

// Task tracks one in-flight dispatch.
type Task struct {
	done    chan struct{}
	outcome Outcome
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Done is closed when the dispatch has finished and its outcome published.
func (t *Task) Done() <-chan struct{} { return t.done }

// Outcome blocks until the dispatch finishes.
func (t *Task) Outcome() Outcome {
	<-t.done
	return t.outcome
}

func (t *Task) finish(o Outcome) {
	t.outcome = o
	close(t.done)
}

// Router forwards inbound messages to subscribers and dispatches a
// notification for messages that match a rule.
type Router struct {
	rules     []*Rule
	sender    notify.Sender
	publisher Publisher
	audit     AuditPublisher
	logger    *slog.Logger

	// mu orders tasks.Add against Wait closing intake.
	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

type RouterOption func(*Router)

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithRouterAudit(publisher AuditPublisher) RouterOption {
	return func(r *Router) {
		r.audit = publisher
	}
}

func NewRouter(sender notify.Sender, publisher Publisher, rules []*Rule, opts ...RouterOption) *Router {
	r := &Router{
		rules:     rules,
		sender:    sender,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route publishes msg to the identity's subscribers and, when a rule matches
// and a target is configured, starts a dispatch. It returns the dispatch task,
// or nil when nothing was dispatched. Route never blocks on delivery.
func (r *Router) Route(ctx context.Context, userID id.UserID, target *models.Target, msg protocol.Message) *Task {
	r.publisher.Publish(userID, EventMessage, msg)

	rule, keyword := r.match(msg.Body)
	if rule == nil {
		return nil
	}
	if target == nil {
		r.logger.InfoContext(ctx, "message matched routing rule but no target is selected",
			"user_id", userID.String(),
			"rule", rule.Name,
			"message_id", msg.ID,
		)
		return nil
	}

	task := newTask()
	n, err := rule.Render(userID, msg, keyword)
	if err != nil {
		r.complete(ctx, userID, *target, msg.ID, task, Outcome{Err: err})
		return task
	}

	tgt := *target
	ctx = context.WithoutCancel(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.complete(ctx, userID, tgt, msg.ID, task, Outcome{Err: ErrRouterClosed})
		return task
	}
	r.tasks.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.tasks.Done()
		receipt, err := r.sender.Send(ctx, tgt, n)
		r.complete(ctx, userID, tgt, msg.ID, task, Outcome{Receipt: receipt, Err: err})
	}()
	return task
}

// Wait stops new dispatches and blocks until every started one has completed
// or ctx ends. Matches routed afterwards finish at once with ErrRouterClosed.
func (r *Router) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) match(body string) (*Rule, string) {
	for _, rule := range r.rules {
		if keyword, ok := rule.Match(body); ok {
			return rule, keyword
		}
	}
	return nil, ""
}

func (r *Router) complete(ctx context.Context, userID id.UserID, target models.Target, messageID string, task *Task, o Outcome) {
	if o.Err != nil {
		r.logger.WarnContext(ctx, "notification dispatch failed",
			"user_id", userID.String(),
			"device_id", target.DeviceID.String(),
			"message_id", messageID,
			"error", o.Err,
		)
		r.publisher.Publish(userID, EventNotificationError, NotificationErrorPayload{
			MessageID: messageID,
			DeviceID:  target.DeviceID.String(),
			Error:     o.Err.Error(),
		})
		emitAudit(ctx, r.audit, r.logger, audit.Event{
			UserID:  userID,
			Action:  string(audit.EventNotificationFailed),
			Subject: target.DeviceID.String(),
			Reason:  o.Err.Error(),
		})
	} else {
		r.logger.InfoContext(ctx, "notification sent",
			"user_id", userID.String(),
			"device_id", target.DeviceID.String(),
			"message_id", messageID,
			"backend", o.Receipt.Backend,
			"degraded", o.Receipt.Degraded,
		)
		r.publisher.Publish(userID, EventNotificationSent, NotificationSentPayload{
			MessageID: messageID,
			DeviceID:  target.DeviceID.String(),
			Backend:   o.Receipt.Backend,
			ReceiptID: o.Receipt.ID,
			Degraded:  o.Receipt.Degraded,
		})
		emitAudit(ctx, r.audit, r.logger, audit.Event{
			UserID:  userID,
			Action:  string(audit.EventNotificationSent),
			Subject: target.DeviceID.String(),
		})
	}
	task.finish(o)
}
