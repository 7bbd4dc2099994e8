package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	stringutil "watchtower/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	// AdminToken guards the /admin routes; empty leaves them unmounted.
	AdminToken string

	Session   SessionConfig
	Protocol  ProtocolConfig
	Devices   DeviceConfig
	Notify    NotifyConfig
	Routing   RoutingConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig

	PostgresDSN     string
	AuditStore      string
	ShutdownTimeout time.Duration
}

// SessionConfig bounds the supervisor's blocking protocol calls.
type SessionConfig struct {
	InitTimeout   time.Duration
	LogoutTimeout time.Duration
}

// ProtocolConfig selects the messaging protocol driver.
type ProtocolConfig struct {
	Driver string
	// AutoApprove makes the simulated driver authenticate without a manual scan.
	AutoApprove  bool
	ApproveDelay time.Duration
}

type DeviceConfig struct {
	Store string
}

type NotifyConfig struct {
	Backend          string
	WebhookURL       string
	KafkaBrokers     []string
	KafkaTopic       string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	// Fallback names the secondary sender used while the primary circuit is open.
	Fallback string
}

type RoutingConfig struct {
	RulesFile string
	Keywords  []string
	Title     string
}

type RealtimeConfig struct {
	AllowedOrigins []string
	BufferSize     int
}

// RateLimitConfig sets per-minute request budgets. Store selects where the
// sliding windows live.
type RateLimitConfig struct {
	Disabled             bool
	Store                string
	SessionControlPerMin int
	RealtimePerMin       int
	ReadPerMin           int
}

// RedisConfig holds connection settings; an empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	DeviceStoreMemory   = "memory"
	DeviceStorePostgres = "postgres"
	DeviceStoreRedis    = "redis"

	NotifyBackendLog     = "log"
	NotifyBackendWebhook = "webhook"
	NotifyBackendKafka   = "kafka"
	NotifyBackendOutbox  = "redis"

	ProtocolDriverSimulated = "simulated"
)

// DefaultKeywords mirror the routing used before rules became configurable.
var DefaultKeywords = []string{"urgent", "emergency", "asap"}

// LoadDotEnv loads a .env file when present; missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		d, err := durationEnv(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	num := func(key string, def int) int {
		n, err := intEnv(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return n
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	cfg := Server{
		Addr:          envOr("WATCHTOWER_ADDR", ":8080"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envOr("JWT_ISSUER", "watchtower"),
		AdminToken:    os.Getenv("ADMIN_API_TOKEN"),
		Session: SessionConfig{
			InitTimeout:   dur("SESSION_INIT_TIMEOUT", 2*time.Minute),
			LogoutTimeout: dur("SESSION_LOGOUT_TIMEOUT", 15*time.Second),
		},
		Protocol: ProtocolConfig{
			Driver:       envOr("PROTOCOL_DRIVER", ProtocolDriverSimulated),
			AutoApprove:  os.Getenv("SIMULATED_AUTO_APPROVE") == "true",
			ApproveDelay: dur("SIMULATED_APPROVE_DELAY", 3*time.Second),
		},
		Devices: DeviceConfig{
			Store: envOr("DEVICE_STORE", DeviceStoreMemory),
		},
		Notify: NotifyConfig{
			Backend:          envOr("NOTIFY_BACKEND", NotifyBackendLog),
			WebhookURL:       os.Getenv("NOTIFY_WEBHOOK_URL"),
			KafkaBrokers:     stringutil.SplitList(os.Getenv("KAFKA_BROKERS")),
			KafkaTopic:       envOr("KAFKA_NOTIFY_TOPIC", "watchtower.notifications"),
			Timeout:          dur("NOTIFY_TIMEOUT", 10*time.Second),
			FailureThreshold: num("NOTIFY_FAILURE_THRESHOLD", 5),
			SuccessThreshold: num("NOTIFY_SUCCESS_THRESHOLD", 3),
			Fallback:         os.Getenv("NOTIFY_FALLBACK"),
		},
		Routing: RoutingConfig{
			RulesFile: os.Getenv("ROUTING_RULES_FILE"),
			Keywords:  stringutil.SplitList(os.Getenv("ROUTING_KEYWORDS")),
			Title:     envOr("ROUTING_TITLE", "Urgent message"),
		},
		Realtime: RealtimeConfig{
			AllowedOrigins: stringutil.SplitList(os.Getenv("WS_ALLOWED_ORIGINS")),
			BufferSize:     num("WS_BUFFER_SIZE", 64),
		},
		RateLimit: RateLimitConfig{
			Disabled:             os.Getenv("RATELIMIT_DISABLED") == "true",
			Store:                envOr("RATELIMIT_STORE", DeviceStoreMemory),
			SessionControlPerMin: num("RATELIMIT_SESSION_PER_MIN", 20),
			RealtimePerMin:       num("RATELIMIT_REALTIME_PER_MIN", 30),
			ReadPerMin:           num("RATELIMIT_READ_PER_MIN", 120),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     num("REDIS_POOL_SIZE", 10),
			MinIdleConns: num("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PostgresDSN:     os.Getenv("DATABASE_URL"),
		AuditStore:      envOr("AUDIT_STORE", DeviceStoreMemory),
		ShutdownTimeout: dur("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if len(cfg.Routing.Keywords) == 0 {
		cfg.Routing.Keywords = DefaultKeywords
	}

	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Server) Validate() error {
	switch c.Devices.Store {
	case DeviceStoreMemory:
	case DeviceStorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("DEVICE_STORE=postgres requires DATABASE_URL")
		}
	case DeviceStoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("DEVICE_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown DEVICE_STORE %q", c.Devices.Store)
	}

	switch c.RateLimit.Store {
	case DeviceStoreMemory:
	case DeviceStoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("RATELIMIT_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown RATELIMIT_STORE %q", c.RateLimit.Store)
	}

	if c.AuditStore == DeviceStorePostgres && c.PostgresDSN == "" {
		return fmt.Errorf("AUDIT_STORE=postgres requires DATABASE_URL")
	}

	for _, backend := range []string{c.Notify.Backend, c.Notify.Fallback} {
		switch backend {
		case "", NotifyBackendLog:
		case NotifyBackendWebhook:
			if c.Notify.WebhookURL == "" {
				return fmt.Errorf("notify backend webhook requires NOTIFY_WEBHOOK_URL")
			}
		case NotifyBackendKafka:
			if len(c.Notify.KafkaBrokers) == 0 {
				return fmt.Errorf("notify backend kafka requires KAFKA_BROKERS")
			}
		case NotifyBackendOutbox:
			if c.Redis.URL == "" {
				return fmt.Errorf("notify backend redis requires REDIS_URL")
			}
		default:
			return fmt.Errorf("unknown notify backend %q", backend)
		}
	}

	if c.Protocol.Driver != ProtocolDriverSimulated {
		return fmt.Errorf("unknown PROTOCOL_DRIVER %q", c.Protocol.Driver)
	}
	if c.Session.InitTimeout <= 0 {
		return fmt.Errorf("SESSION_INIT_TIMEOUT must be positive")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
