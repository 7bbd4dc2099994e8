package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"watchtower/internal/device/models"
	"watchtower/internal/platform/metrics"
	"watchtower/pkg/platform/circuit"
)

const (
	outcomeSent     = "sent"
	outcomeFallback = "fallback"
	outcomeFailed   = "failed"
)

// Dispatcher wraps a primary backend with a timeout, a circuit breaker and an
// optional fallback. The primary is always tried; the fallback only takes over
// while the circuit is open.
type Dispatcher struct {
	primary  Sender
	fallback Sender
	breaker  *circuit.Breaker
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type DispatcherOption func(*Dispatcher)

func WithFallback(s Sender) DispatcherOption {
	return func(d *Dispatcher) {
		d.fallback = s
	}
}

func WithBreaker(b *circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) {
		d.breaker = b
	}
}

func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(primary Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		primary: primary,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		tracer:  otel.Tracer("watchtower/notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = circuit.New("notify-" + primary.Name())
	}
	return d
}

func (d *Dispatcher) Name() string { return d.primary.Name() }

// Send delivers n to target. It never retries the primary.
func (d *Dispatcher) Send(ctx context.Context, target models.Target, n Notification) (Receipt, error) {
	ctx, span := d.tracer.Start(ctx, "notify.Send", trace.WithAttributes(
		attribute.String("notify.backend", d.primary.Name()),
		attribute.String("user.id", n.UserID.String()),
	))
	defer span.End()

	start := time.Now()
	receipt, err := d.attempt(ctx, d.primary, target, n)
	if err == nil {
		if _, change := d.breaker.RecordSuccess(); change.Closed {
			d.logger.InfoContext(ctx, "notification backend recovered", "backend", d.primary.Name())
			d.setCircuitGauge(false)
		}
		d.observe(d.primary.Name(), outcomeSent, start)
		return receipt, nil
	}

	useFallback, change := d.breaker.RecordFailure()
	if change.Opened {
		d.logger.WarnContext(ctx, "notification backend circuit opened",
			"backend", d.primary.Name(),
			"error", err,
		)
		d.setCircuitGauge(true)
	}

	if useFallback && d.fallback != nil {
		fbReceipt, fbErr := d.attempt(ctx, d.fallback, target, n)
		if fbErr == nil {
			fbReceipt.Degraded = true
			span.SetAttributes(attribute.Bool("notify.degraded", true))
			d.observe(d.primary.Name(), outcomeFallback, start)
			return fbReceipt, nil
		}
		d.logger.ErrorContext(ctx, "notification fallback failed",
			"backend", d.fallback.Name(),
			"error", fbErr,
		)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "delivery failed")
	d.observe(d.primary.Name(), outcomeFailed, start)
	return Receipt{}, fmt.Errorf("deliver via %s: %w", d.primary.Name(), err)
}

func (d *Dispatcher) attempt(ctx context.Context, s Sender, target models.Target, n Notification) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return s.Send(ctx, target, n)
}

func (d *Dispatcher) observe(backend, outcome string, start time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveNotification(backend, outcome, time.Since(start))
	}
}

func (d *Dispatcher) setCircuitGauge(open bool) {
	if d.metrics != nil {
		d.metrics.SetCircuitOpen(d.breaker.Name(), open)
	}
}
