package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"watchtower/internal/device/models"
	"watchtower/internal/platform/metrics"
	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/audit"
	"watchtower/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/session-mocks.go -package=mocks DeviceRegistry

// DeviceRegistry resolves and persists a user's selected notification target.
type DeviceRegistry interface {
	SelectedTarget(ctx context.Context, userID id.UserID) (*models.Target, error)
	SetSelectedTarget(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Target, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// StopResult tells a stop caller whether the session is gone or the stop was
// queued until the client can be logged out.
type StopResult string

const (
	StopCompleted StopResult = "stopped"
	StopQueued    StopResult = "queued"
)

const (
	pingBody = "!ping"
	pongBody = "pong"

	reasonInitTimeout = "initialization timed out"
	reasonStopped     = "stopped"
	reasonStreamEnded = "connection closed"
	reasonShutdown    = "server shutting down"
)

// Service is the session supervisor. It enforces one live session per
// identity, drives each session's client and folds its events into the
// record, the subscribers and the router.
type Service struct {
	registry  *Registry
	factory   protocol.Factory
	devices   DeviceRegistry
	publisher Publisher
	router    *Router

	logger        *slog.Logger
	audit         AuditPublisher
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	initTimeout   time.Duration
	logoutTimeout time.Duration
	now           func() time.Time

	consumers sync.WaitGroup
}

type Option func(*Service)

func WithRegistry(r *Registry) Option {
	return func(s *Service) {
		s.registry = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithInitTimeout bounds the handshake: a session that has not authenticated
// within d is disconnected.
func WithInitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(factory protocol.Factory, devices DeviceRegistry, publisher Publisher, router *Router, opts ...Option) *Service {
	s := &Service{
		factory:       factory,
		devices:       devices,
		publisher:     publisher,
		router:        router,
		logger:        slog.Default(),
		tracer:        otel.Tracer("watchtower/session"),
		initTimeout:   2 * time.Minute,
		logoutTimeout: 15 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	return s
}

// CurrentState reports the identity's lifecycle state; DISCONNECTED when no
// record exists.
func (s *Service) CurrentState(userID id.UserID) State {
	return s.registry.Peek(userID).State
}

// Snapshot returns the identity's current view, used for subscriber replay.
func (s *Service) Snapshot(userID id.UserID) Snapshot {
	return s.registry.Peek(userID)
}

// StartSession creates the identity's record in INITIALIZING and starts its
// client. The client's handshake runs asynchronously.
func (s *Service) StartSession(ctx context.Context, userID id.UserID) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "session.Start", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	if snap := s.registry.Peek(userID); !snap.State.IsTerminal() {
		return Snapshot{}, s.denyStart(ctx, span, userID, "already_active", alreadyActive())
	}

	target, err := s.devices.SelectedTarget(ctx, userID)
	if err != nil {
		return Snapshot{}, s.denyStart(ctx, span, userID, "target_lookup", err)
	}
	if target == nil {
		return Snapshot{}, s.denyStart(ctx, span, userID, "no_target",
			dErrors.Wrap(ErrNoTarget, dErrors.CodePreconditionFailed, "register a device before starting a session"))
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess, err := s.registry.Create(userID, func() (*Session, error) {
		client, err := s.factory.NewClient(userID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create protocol client")
		}
		sess := newSession(userID, client, target, s.now())
		sess.cancel = cancel
		return sess, nil
	})
	if err != nil {
		cancel()
		if errors.Is(err, ErrAlreadyActive) {
			err = alreadyActive()
			return Snapshot{}, s.denyStart(ctx, span, userID, "already_active", err)
		}
		return Snapshot{}, s.denyStart(ctx, span, userID, "client", err)
	}

	if s.metrics != nil {
		s.metrics.IncSessionsActive()
		s.metrics.IncTransition(string(StateInitializing))
	}
	slot := s.registry.Lock(userID)
	if slot.Session() == sess {
		s.publisher.Publish(userID, EventStatus, StatusPayload{State: StateInitializing})
	}
	slot.Unlock()
	s.logger.InfoContext(ctx, "session started",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
		"device_id", target.DeviceID.String(),
	)
	s.emitAudit(ctx, audit.Event{UserID: userID, Action: string(audit.EventSessionStarted), Subject: target.DeviceID.String()})

	timer := time.AfterFunc(s.initTimeout, func() { s.expire(sessCtx, sess) })
	go func() {
		<-sessCtx.Done()
		timer.Stop()
	}()

	s.consumers.Add(2)
	go s.consume(sessCtx, sess)
	go s.initialize(sessCtx, sess)

	return sess.Snapshot(), nil
}

func alreadyActive() error {
	return dErrors.Wrap(ErrAlreadyActive, dErrors.CodeConflict, "a session is already active for this user")
}

func (s *Service) denyStart(ctx context.Context, span trace.Span, userID id.UserID, reason string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	if s.metrics != nil {
		s.metrics.IncStartRejected(reason)
	}
	s.logger.WarnContext(ctx, "session start rejected",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
		"reason", reason,
		"error", err,
	)
	s.emitAudit(ctx, audit.Event{UserID: userID, Action: string(audit.EventSessionStartDenied), Reason: reason})
	return err
}

// StopSession logs the identity's client out and removes its record. A client
// that cannot be logged out yet gets the stop queued; it is applied as soon as
// the handshake lets it.
func (s *Service) StopSession(ctx context.Context, userID id.UserID) (StopResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.Stop", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	slot := s.registry.Lock(userID)
	sess := slot.Session()
	if sess == nil {
		slot.Unlock()
		return "", dErrors.Wrap(ErrNotActive, dErrors.CodeNotFound, "no active session for this user")
	}
	if sess.machine.State().IsTerminal() {
		slot.Clear()
		slot.Unlock()
		sess.cancel()
		s.logger.InfoContext(ctx, "terminal session record removed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"state", sess.machine.State().String(),
		)
		return StopCompleted, nil
	}
	if sess.stopQueued {
		slot.Unlock()
		return StopQueued, nil
	}
	if sess.stopping {
		slot.Unlock()
		return "", dErrors.Wrap(ErrStopInProgress, dErrors.CodeConflict, "a stop is already in progress")
	}
	sess.stopping = true
	slot.Unlock()

	err := s.logout(ctx, sess)

	slot = s.registry.Lock(userID)
	defer slot.Unlock()
	sess.stopping = false
	current := slot.Session() == sess

	switch {
	case errors.Is(err, protocol.ErrNotLoggable):
		if !current || sess.machine.State().IsTerminal() {
			return StopCompleted, nil
		}
		sess.stopQueued = true
		s.logger.InfoContext(ctx, "session stop queued until the client can log out",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"state", sess.machine.State().String(),
		)
		s.emitAudit(ctx, audit.Event{UserID: userID, Action: string(audit.EventSessionStopQueued), State: sess.machine.State().String()})
		if sess.initialized || sess.machine.State().rank() >= StateAuthenticated.rank() {
			go s.applyQueuedStop(context.WithoutCancel(ctx), sess)
		}
		return StopQueued, nil

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "logout failed")
		s.logger.ErrorContext(ctx, "session logout failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		if current {
			s.publisher.Publish(userID, EventSessionError, SessionErrorPayload{State: sess.machine.State(), Error: "logout failed"})
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "logout failed")
	}

	if current {
		s.terminate(ctx, slot, sess, StateDisconnected, reasonStopped)
		s.release(slot, sess)
	}
	s.logger.InfoContext(ctx, "session stopped",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", userID.String(),
	)
	s.emitAudit(ctx, audit.Event{UserID: userID, Action: string(audit.EventSessionStopped)})
	return StopCompleted, nil
}

// UpdateTarget selects a registered device as the identity's target. The
// selection is persisted for future starts and applied in place to a live
// session, so routing uses it from the next message on.
func (s *Service) UpdateTarget(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Target, error) {
	ctx, span := s.tracer.Start(ctx, "session.UpdateTarget", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("device.id", deviceID.String()),
	))
	defer span.End()

	slot := s.registry.Lock(userID)
	defer slot.Unlock()

	target, err := s.devices.SetSelectedTarget(ctx, userID, deviceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select target")
		return nil, err
	}
	if sess := slot.Session(); sess != nil && !sess.machine.State().IsTerminal() {
		cp := *target
		sess.target = &cp
		s.logger.InfoContext(ctx, "live session target updated",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"device_id", deviceID.String(),
		)
	}
	return target, nil
}

// Shutdown disconnects every session without logging the clients out, then
// waits for event consumers and in-flight dispatches.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, sess := range s.registry.Sessions() {
		slot := s.registry.Lock(sess.userID)
		if slot.Session() == sess {
			s.terminate(ctx, slot, sess, StateDisconnected, reasonShutdown)
		}
		slot.Unlock()
		sess.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if s.router != nil {
			// Consumers still running past the deadline must not start dispatches.
			_ = s.router.Wait(ctx)
		}
		return ctx.Err()
	}
	if s.router != nil {
		return s.router.Wait(ctx)
	}
	return nil
}

func (s *Service) consume(ctx context.Context, sess *Session) {
	defer s.consumers.Done()
	defer close(sess.done)

	events := sess.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.streamEnded(ctx, sess)
				return
			}
			s.handle(ctx, sess, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, sess *Session, ev protocol.Event) {
	slot := s.registry.Lock(sess.userID)
	if slot.Session() != sess {
		slot.Unlock()
		return
	}

	if ev.Kind == protocol.KindMessage {
		if ev.Message == nil || sess.machine.State().IsTerminal() {
			slot.Unlock()
			return
		}
		msg := *ev.Message
		if s.router != nil {
			s.router.Route(ctx, sess.userID, sess.targetCopy(), msg)
		}
		slot.Unlock()
		if strings.TrimSpace(msg.Body) == pingBody {
			s.reply(ctx, sess, msg)
		}
		return
	}

	t, ok := sess.machine.Apply(ev)
	if !ok {
		slot.Unlock()
		s.logger.DebugContext(ctx, "lifecycle event ignored",
			"user_id", sess.userID.String(),
			"event", ev.Kind.String(),
			"state", sess.Snapshot().State.String(),
		)
		return
	}
	s.commit(ctx, sess, t)
	if t.To == StateDisconnected {
		s.release(slot, sess)
	}
	retryStop := sess.stopQueued && !t.To.IsTerminal()
	slot.Unlock()

	if retryStop {
		go s.applyQueuedStop(ctx, sess)
	}
}

func (s *Service) reply(ctx context.Context, sess *Session, msg protocol.Message) {
	replier, ok := sess.client.(protocol.Replier)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.logoutTimeout)
	defer cancel()
	if err := replier.Reply(ctx, msg, pongBody); err != nil {
		s.logger.WarnContext(ctx, "ping reply failed",
			"user_id", sess.userID.String(),
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// initialize runs the client's handshake. A failure ends the session.
func (s *Service) initialize(ctx context.Context, sess *Session) {
	defer s.consumers.Done()
	err := sess.client.Initialize(ctx)

	slot := s.registry.Lock(sess.userID)
	if slot.Session() != sess {
		slot.Unlock()
		return
	}
	sess.initialized = true
	if err != nil {
		s.logger.ErrorContext(ctx, "session initialization failed",
			"user_id", sess.userID.String(),
			"error", err,
		)
		state := sess.machine.State()
		if !state.IsTerminal() {
			s.publisher.Publish(sess.userID, EventSessionError, SessionErrorPayload{State: state, Error: "initialization failed"})
		}
		s.terminate(ctx, slot, sess, StateDisconnected, "initialization failed")
		slot.Unlock()
		return
	}
	queued := sess.stopQueued
	slot.Unlock()

	if queued {
		s.applyQueuedStop(ctx, sess)
	}
}

// expire ends a session whose handshake did not complete in time.
func (s *Service) expire(ctx context.Context, sess *Session) {
	slot := s.registry.Lock(sess.userID)
	if slot.Session() != sess || sess.machine.State().rank() >= StateAuthenticated.rank() {
		slot.Unlock()
		return
	}
	state := sess.machine.State()
	s.logger.WarnContext(ctx, "session initialization timed out",
		"user_id", sess.userID.String(),
		"state", state.String(),
		"timeout", s.initTimeout.String(),
	)
	s.publisher.Publish(sess.userID, EventSessionError, SessionErrorPayload{State: state, Error: reasonInitTimeout})
	s.terminate(ctx, slot, sess, StateDisconnected, reasonInitTimeout)
	slot.Unlock()

	// The released record's context is already cancelled, which cuts the
	// connection. Logout only matters for a client that paired in the meantime;
	// an unpaired one answers ErrNotLoggable and has nothing to revoke.
	if err := s.logout(context.WithoutCancel(ctx), sess); err != nil && !errors.Is(err, protocol.ErrNotLoggable) {
		s.logger.DebugContext(ctx, "logout after timeout failed",
			"user_id", sess.userID.String(),
			"error", err,
		)
	}
}

// applyQueuedStop retries a queued stop. It stays queued while the client is
// still not loggable.
func (s *Service) applyQueuedStop(ctx context.Context, sess *Session) {
	slot := s.registry.Lock(sess.userID)
	if slot.Session() != sess || !sess.stopQueued || sess.stopping || sess.machine.State().IsTerminal() {
		slot.Unlock()
		return
	}
	sess.stopping = true
	slot.Unlock()

	err := s.logout(ctx, sess)

	slot = s.registry.Lock(sess.userID)
	defer slot.Unlock()
	sess.stopping = false
	if errors.Is(err, protocol.ErrNotLoggable) {
		return
	}
	sess.stopQueued = false
	if err != nil {
		s.logger.ErrorContext(ctx, "queued session stop failed",
			"user_id", sess.userID.String(),
			"error", err,
		)
		if slot.Session() == sess {
			s.publisher.Publish(sess.userID, EventSessionError, SessionErrorPayload{State: sess.machine.State(), Error: "logout failed"})
		}
		return
	}
	if slot.Session() == sess {
		s.terminate(ctx, slot, sess, StateDisconnected, reasonStopped)
	}
	s.logger.InfoContext(ctx, "queued session stop applied", "user_id", sess.userID.String())
	s.emitAudit(ctx, audit.Event{UserID: sess.userID, Action: string(audit.EventSessionStopped)})
}

// streamEnded handles a client that closed its event stream without a
// terminal event. Before Initialize returns the initializer owns that outcome.
func (s *Service) streamEnded(ctx context.Context, sess *Session) {
	slot := s.registry.Lock(sess.userID)
	defer slot.Unlock()
	if slot.Session() != sess || !sess.initialized {
		return
	}
	s.terminate(ctx, slot, sess, StateDisconnected, reasonStreamEnded)
}

func (s *Service) logout(ctx context.Context, sess *Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.logoutTimeout)
	defer cancel()
	return sess.client.Logout(ctx)
}

// terminate forces sess into a terminal state and releases it. The caller
// holds the slot.
func (s *Service) terminate(ctx context.Context, slot *Slot, sess *Session, state State, reason string) {
	if t, ok := sess.machine.Fail(state, reason); ok {
		s.commit(ctx, sess, t)
	}
	if sess.machine.State() == StateDisconnected {
		s.release(slot, sess)
	}
}

// release drops a disconnected record and stops its goroutines.
func (s *Service) release(slot *Slot, sess *Session) {
	slot.Clear()
	sess.cancel()
}

// commit publishes an accepted transition. The caller holds the slot, so
// subscribers see an identity's transitions in order.
func (s *Service) commit(ctx context.Context, sess *Session, t Transition) {
	sess.storeSnapshot(t.Reason, s.now())

	s.publisher.Publish(sess.userID, EventStatus, StatusPayload{State: t.To, Reason: t.Reason})
	switch t.To {
	case StateScanQR:
		s.publisher.Publish(sess.userID, EventQR, QRPayload{QR: t.Challenge})
	case StateAuthFailure:
		reason := t.Reason
		if reason == "" {
			reason = "authentication failed"
		}
		s.publisher.Publish(sess.userID, EventSessionError, SessionErrorPayload{State: t.To, Error: reason})
		sess.cancel()
	}

	if s.metrics != nil {
		s.metrics.IncTransition(string(t.To))
		if t.To.IsTerminal() {
			s.metrics.DecSessionsActive()
		}
	}
	if !t.Changed() {
		return
	}
	s.logger.InfoContext(ctx, "session state changed",
		"user_id", sess.userID.String(),
		"from", t.From.String(),
		"state", t.To.String(),
		"reason", t.Reason,
	)
	s.emitAudit(ctx, audit.Event{
		UserID: sess.userID,
		Action: string(audit.EventSessionStateChanged),
		State:  t.To.String(),
		Reason: t.Reason,
	})
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	emitAudit(ctx, s.audit, s.logger, event)
}

func emitAudit(ctx context.Context, publisher AuditPublisher, logger *slog.Logger, event audit.Event) {
	if publisher == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := publisher.Emit(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
