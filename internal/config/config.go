// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, the M-Pesa gateway credentials, event publishing, rate
// limiting, and observability. The resulting Config is built once in main
// and passed down by value.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-mpesa-checkout")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects and locates the database.
type StoreConfig struct {
	Driver         string // DB_DRIVER: sqlite|postgres
	DatabaseURL    string // DATABASE_URL (postgres)
	Path           string // DB_PATH (sqlite)
	MigrationsPath string // MIGRATIONS_PATH, SQL files for golang-migrate
	AutoMigrate    bool   // AUTO_MIGRATE: gorm AutoMigrate instead of SQL files
}

// KafkaConfig configures payment event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string // KAFKA_BROKERS, comma separated
	Topic   string   // KAFKA_TOPIC

	// PublishTimeout bounds delivery of one event. Delivery runs in the
	// background, so it never delays a payment request.
	PublishTimeout time.Duration // KAFKA_PUBLISH_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 45s, above the gateway request timeout
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // drain budget for requests and callbacks
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // scrub phone numbers and emails from access logs
	SwaggerEnabled bool   // enable Swagger UI route

	// Storage
	Store StoreConfig

	// Gateway
	Mpesa           mpesa.Config
	CallbackTimeout time.Duration // budget for processing one callback after the ack

	// Events
	Kafka KafkaConfig

	// Rate limiting (client-facing routes only)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Credential aliases, canonical name first. Deployments carry the live
// credentials under several historical names.
var (
	consumerKeyEnv    = []string{"MPESA_CONSUMER_KEY", "MPESA_LIVE_CONSUMER_KEY", "MPESA_PROD_CONSUMER_KEY"}
	consumerSecretEnv = []string{"MPESA_CONSUMER_SECRET", "MPESA_LIVE_CONSUMER_SECRET", "MPESA_PROD_CONSUMER_SECRET"}
	shortCodeEnv      = []string{"MPESA_SHORTCODE", "MPESA_LIVE_SHORT_CODE", "MPESA_LIVE_SHORTCODE", "MPESA_PROD_SHORTCODE"}
	passkeyEnv        = []string{"MPESA_PASSKEY", "MPESA_LIVE_CONSUMER_PASSKEY", "MPESA_LIVE_PASSKEY", "MPESA_PROD_PASSKEY"}
)

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
//
// Missing M-Pesa credentials are not a load error: the service starts and
// the payment endpoints answer with a configuration error until they are set.
func Load() (Config, error) {
	gw, err := LoadMpesa()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogRedact:      getbool("LOG_REDACT", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),

		// Storage
		Store: StoreConfig{
			Driver:         strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DatabaseURL:    getenv("DATABASE_URL", ""),
			Path:           getenv("DB_PATH", "checkout.db"),
			MigrationsPath: getenv("MIGRATIONS_PATH", "migrations"),
			AutoMigrate:    getbool("AUTO_MIGRATE", true),
		},

		// Gateway
		Mpesa:           gw,
		CallbackTimeout: getdur("CALLBACK_TIMEOUT", 30*time.Second),

		// Events
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "mpesa.payments"),

			PublishTimeout: getdur("KAFKA_PUBLISH_TIMEOUT", 5*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-mpesa-checkout"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	switch cfg.Store.Driver {
	case "postgresql", "pg":
		cfg.Store.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Store.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.CallbackTimeout <= 0 {
		return cfg, errors.New("CALLBACK_TIMEOUT must be > 0")
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return cfg, errors.New("KAFKA_TOPIC must be set when KAFKA_BROKERS is")
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.PublishTimeout <= 0 {
		return cfg, errors.New("KAFKA_PUBLISH_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// LoadMpesa decodes the gateway section. MPESA_CONFIG_PATH points at an
// optional YAML file; environment variables override it. Credentials not
// found under their canonical names are looked up under the aliases.
func LoadMpesa() (mpesa.Config, error) {
	var gw mpesa.Config
	if p := strings.TrimSpace(os.Getenv("MPESA_CONFIG_PATH")); p != "" {
		if err := cleanenv.ReadConfig(p, &gw); err != nil {
			return gw, err
		}
	} else if err := cleanenv.ReadEnv(&gw); err != nil {
		return gw, err
	}

	gw.ConsumerKey = withAlias(gw.ConsumerKey, consumerKeyEnv)
	gw.ConsumerSecret = withAlias(gw.ConsumerSecret, consumerSecretEnv)
	gw.ShortCode = withAlias(gw.ShortCode, shortCodeEnv)
	gw.Passkey = withAlias(gw.Passkey, passkeyEnv)
	return gw, nil
}

func withAlias(current string, names []string) string {
	v, _ := sysutil.FirstEnv(names...)
	return strings.TrimSpace(sysutil.FirstNonEmpty(current, v))
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
