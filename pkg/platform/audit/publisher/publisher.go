// Package publisher emits audit events to a store, synchronously or through a
// bounded buffer drained by a background goroutine.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "watchtower/pkg/domain"
	audit "watchtower/pkg/platform/audit"
)

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	buffer chan audit.Event
	wg     sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking, queueing up to size events.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit records an event. In async mode a full buffer drops the event and returns
// ErrBufferFull so callers can log without blocking a hot path.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	return p.store.ListByUser(ctx, userID)
}

// Close stops accepting async events and drains what is buffered.
func (p *Publisher) Close() {
	if p.buffer == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event",
				"action", event.Action,
				"user_id", event.UserID.String(),
				"error", err,
			)
		}
	}
}
