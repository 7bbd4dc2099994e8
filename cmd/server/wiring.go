package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"watchtower/internal/admin"
	"watchtower/internal/admin/adapters"
	activity "watchtower/internal/audit"
	devicehandler "watchtower/internal/device/handler"
	deviceservice "watchtower/internal/device/service"
	devicestore "watchtower/internal/device/store"
	"watchtower/internal/identity"
	"watchtower/internal/notify"
	"watchtower/internal/platform/config"
	"watchtower/internal/platform/kafka"
	"watchtower/internal/platform/metrics"
	"watchtower/internal/platform/postgres"
	redisclient "watchtower/internal/platform/redis"
	"watchtower/internal/protocol/simulated"
	rlmiddleware "watchtower/internal/ratelimit/middleware"
	rlmodels "watchtower/internal/ratelimit/models"
	"watchtower/internal/ratelimit/store/bucket"
	"watchtower/internal/realtime"
	"watchtower/internal/session"
	sessionhandler "watchtower/internal/session/handler"
	"watchtower/pkg/platform/audit"
	auditpublisher "watchtower/pkg/platform/audit/publisher"
	auditmemory "watchtower/pkg/platform/audit/store/memory"
	auditpostgres "watchtower/pkg/platform/audit/store/postgres"
	"watchtower/pkg/platform/circuit"
	adminmw "watchtower/pkg/platform/middleware/admin"
	"watchtower/pkg/platform/middleware/auth"
	"watchtower/pkg/platform/middleware/metadata"
	"watchtower/pkg/platform/middleware/request"
	"watchtower/pkg/platform/middleware/requesttime"
)

const (
	auditBufferSize   = 1024
	kafkaPartitions   = 3
	kafkaReplication  = 1
	healthCheckBudget = 2 * time.Second
)

// infra holds the external connections the configuration asks for. Unused
// backends stay nil.
type infra struct {
	db    *sql.DB
	redis *redisclient.Client
	kafka *kafka.Client
}

func openInfra(ctx context.Context, cfg config.Server) (*infra, error) {
	in := &infra{}
	if cfg.Devices.Store == config.DeviceStorePostgres || cfg.AuditStore == config.DeviceStorePostgres {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		in.db = db
	}
	if cfg.Redis.URL != "" {
		rdb, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.redis = rdb
	}
	if cfg.Notify.Backend == config.NotifyBackendKafka || cfg.Notify.Fallback == config.NotifyBackendKafka {
		kc, err := kafka.New(ctx, cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		if err != nil {
			in.Close()
			return nil, err
		}
		if err := kc.EnsureTopic(ctx, kafkaPartitions, kafkaReplication); err != nil {
			kc.Close()
			in.Close()
			return nil, err
		}
		in.kafka = kc
	}
	return in, nil
}

// Health pings every open backend.
func (in *infra) Health(ctx context.Context) error {
	var errs []error
	if in.db != nil {
		if err := in.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

// app is the wired process: core services plus the HTTP handlers over them.
type app struct {
	cfg      config.Server
	logger   *slog.Logger
	infra    *infra
	verifier *identity.JWTService

	limiter    *rlmiddleware.Middleware
	audit      *auditpublisher.Publisher
	registry   *session.Registry
	hub        *realtime.Hub
	router     *session.Router
	supervisor *session.Service

	sessions *sessionhandler.Handler
	devices  *devicehandler.Handler
	activity *activity.Handler
	admin    *admin.Handler
	ws       *realtime.Handler
}

func newApp(ctx context.Context, cfg config.Server, logger *slog.Logger, m *metrics.Metrics, in *infra) (*app, error) {
	a := &app{cfg: cfg, logger: logger, infra: in}

	auditStore, err := newAuditStore(ctx, cfg, in)
	if err != nil {
		return nil, err
	}
	a.audit = auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(auditBufferSize),
		auditpublisher.WithLogger(logger),
	)

	deviceStore, err := newDeviceStore(ctx, cfg, in)
	if err != nil {
		return nil, err
	}
	devices := deviceservice.New(deviceStore,
		deviceservice.WithLogger(logger),
		deviceservice.WithAuditPublisher(a.audit),
	)

	sender, err := newDispatcher(cfg, in, logger, m)
	if err != nil {
		return nil, err
	}
	rules, err := newRules(cfg)
	if err != nil {
		return nil, err
	}

	var driverOpts []simulated.Option
	if cfg.Protocol.AutoApprove {
		driverOpts = append(driverOpts, simulated.WithAutoApprove(cfg.Protocol.ApproveDelay))
	}
	driver := simulated.NewDriver(driverOpts...)

	a.registry = session.NewRegistry()
	a.hub = realtime.NewHub(a.registry, realtime.WithLogger(logger), realtime.WithMetrics(m))
	a.router = session.NewRouter(sender, a.hub, rules,
		session.WithRouterLogger(logger),
		session.WithRouterAudit(a.audit),
	)
	a.supervisor = session.New(driver, devices, a.hub, a.router,
		session.WithRegistry(a.registry),
		session.WithLogger(logger),
		session.WithAuditPublisher(a.audit),
		session.WithMetrics(m),
		session.WithInitTimeout(cfg.Session.InitTimeout),
		session.WithLogoutTimeout(cfg.Session.LogoutTimeout),
	)

	a.limiter = newLimiter(cfg, in, logger)
	a.verifier = identity.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	a.sessions = sessionhandler.New(a.supervisor, driver, logger)
	a.devices = devicehandler.New(devices, a.supervisor, logger)
	a.activity = activity.New(a.audit, logger)
	a.ws = realtime.NewHandler(a.hub, a.verifier, logger,
		realtime.WithAllowedOrigins(cfg.Realtime.AllowedOrigins),
		realtime.WithBufferSize(cfg.Realtime.BufferSize),
	)
	if cfg.AdminToken != "" {
		a.admin = admin.New(adapters.NewSessionStoreAdapter(a.registry), logger)
	}
	return a, nil
}

func newLimiter(cfg config.Server, in *infra, logger *slog.Logger) *rlmiddleware.Middleware {
	var store rlmiddleware.BucketStore = bucket.NewInMemoryBucketStore()
	if cfg.RateLimit.Store == config.DeviceStoreRedis {
		store = bucket.NewRedis(in.redis.Client)
	}
	return rlmiddleware.New(store, logger,
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithPolicy(rlmodels.ClassSessionControl, rlmodels.Policy{Limit: cfg.RateLimit.SessionControlPerMin, Window: time.Minute}),
		rlmiddleware.WithPolicy(rlmodels.ClassRealtime, rlmodels.Policy{Limit: cfg.RateLimit.RealtimePerMin, Window: time.Minute}),
		rlmiddleware.WithPolicy(rlmodels.ClassRead, rlmodels.Policy{Limit: cfg.RateLimit.ReadPerMin, Window: time.Minute}),
	)
}

func newAuditStore(ctx context.Context, cfg config.Server, in *infra) (audit.Store, error) {
	if cfg.AuditStore != config.DeviceStorePostgres {
		return auditmemory.NewInMemoryStore(), nil
	}
	store := auditpostgres.New(in.db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return store, nil
}

func newDeviceStore(ctx context.Context, cfg config.Server, in *infra) (deviceservice.Store, error) {
	switch cfg.Devices.Store {
	case config.DeviceStorePostgres:
		store := devicestore.NewPostgres(in.db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("device schema: %w", err)
		}
		return store, nil
	case config.DeviceStoreRedis:
		return devicestore.NewRedis(in.redis.Client), nil
	default:
		return devicestore.NewInMemoryStore(), nil
	}
}

func newSender(backend string, cfg config.Server, in *infra, logger *slog.Logger) (notify.Sender, error) {
	switch backend {
	case config.NotifyBackendWebhook:
		return notify.NewWebhookSender(cfg.Notify.WebhookURL, &http.Client{Timeout: cfg.Notify.Timeout}), nil
	case config.NotifyBackendKafka:
		return notify.NewKafkaSender(in.kafka, in.kafka.Topic()), nil
	case config.NotifyBackendOutbox:
		return notify.NewOutboxSender(in.redis.Client), nil
	case config.NotifyBackendLog, "":
		return notify.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", backend)
	}
}

// newDispatcher wraps the primary backend in the circuit breaker, falling back
// to the configured secondary while the circuit is open.
func newDispatcher(cfg config.Server, in *infra, logger *slog.Logger, m *metrics.Metrics) (*notify.Dispatcher, error) {
	primary, err := newSender(cfg.Notify.Backend, cfg, in, logger)
	if err != nil {
		return nil, err
	}
	opts := []notify.DispatcherOption{
		notify.WithBreaker(circuit.New("notify-"+primary.Name(),
			circuit.WithFailureThreshold(cfg.Notify.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Notify.SuccessThreshold),
		)),
		notify.WithTimeout(cfg.Notify.Timeout),
		notify.WithLogger(logger),
		notify.WithMetrics(m),
	}
	if cfg.Notify.Fallback != "" && cfg.Notify.Fallback != cfg.Notify.Backend {
		fallback, err := newSender(cfg.Notify.Fallback, cfg, in, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, notify.WithFallback(fallback))
	}
	return notify.NewDispatcher(primary, opts...), nil
}

func newRules(cfg config.Server) ([]*session.Rule, error) {
	if cfg.Routing.RulesFile != "" {
		rules, err := session.LoadRules(cfg.Routing.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("routing rules: %w", err)
		}
		return rules, nil
	}
	rule, err := session.KeywordRule(cfg.Routing.Keywords, cfg.Routing.Title)
	if err != nil {
		return nil, fmt.Errorf("routing rules: %w", err)
	}
	return []*session.Rule{rule}, nil
}

// routes mounts every handler. /healthz, /metrics and /ws are public; /ws
// authenticates during the handshake itself.
func (a *app) routes(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.ws.Register(r.With(a.limiter.RateLimit(rlmodels.ClassRealtime)))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(a.verifier, a.logger))
		a.sessions.Register(r.With(a.limiter.RateLimitAuthenticated(rlmodels.ClassSessionControl)))
		read := r.With(a.limiter.RateLimitAuthenticated(rlmodels.ClassRead))
		a.devices.Register(read)
		a.activity.Register(read)
	})

	if a.admin != nil {
		r.Group(func(r chi.Router) {
			r.Use(adminmw.RequireAdminToken(a.cfg.AdminToken, a.logger))
			a.admin.Register(r)
		})
	}
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckBudget)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := a.infra.Health(ctx); err != nil {
		a.logger.WarnContext(ctx, "health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// shutdown stops sessions without logging them out, drains dispatches, closes
// subscribers and flushes the audit buffer.
func (a *app) shutdown(ctx context.Context) error {
	err := a.supervisor.Shutdown(ctx)
	a.hub.Close()
	a.audit.Close()
	return err
}
