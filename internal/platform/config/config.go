// Package config loads the register's runtime configuration from the
// environment. A .env file in the working directory is applied first when
// present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	lists "nser/pkg/platform/strings"
)

// Config is the full runtime configuration.
type Config struct {
	Server      Server
	Keys        Keys
	Postgres    Postgres
	Redis       RedisConfig
	Kafka       Kafka
	Propagation Propagation
	Lookup      Lookup
	RateLimit   RateLimit

	// SweepInterval is how often due exclusions are expired or renewed.
	SweepInterval time.Duration
	// OperatorsFile is an optional YAML operator seed.
	OperatorsFile string
	LogLevel      string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string
	AdminToken string
	// Issuer names this register in operator tokens and delivery signatures.
	Issuer         string
	AccessTokenTTL time.Duration
}

// Keys holds the secrets behind tokens and hashes. Rotating TokenHashKey or
// CrossrefHashKey invalidates every stored hash.
type Keys struct {
	TokenHashKey    string
	CrossrefHashKey string
	OperatorJWTKey  string
	TokenPrefix     string
}

type Postgres struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the cache and retry-queue client. An empty URL
// means in-memory implementations are used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	Brokers     []string
	ClientID    string
	AuditTopic  string
	EventsTopic string
}

type Propagation struct {
	MaxRetries     int
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
	FanOut         int
	MaxInFlight    int64
	PollInterval   time.Duration
}

type Lookup struct {
	CacheTTL time.Duration
}

// RateLimit caps requests per minute. Zero disables a limit.
type RateLimit struct {
	OperatorPerMinute int
	TokenPerMinute    int
}

// MaxCacheTTL bounds the lookup cache TTL regardless of configuration.
const MaxCacheTTL = 60 * time.Second

const (
	devAdminToken  = "dev-admin-token"
	devTokenKey    = "dev-token-hash-key-change-me"
	devCrossrefKey = "dev-crossref-hash-key-change-me"
	devJWTKey      = "dev-operator-jwt-key-change-me"
)

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Server: Server{
			Addr:           env("NSER_ADDR", ":8080"),
			AdminToken:     env("ADMIN_API_TOKEN", devAdminToken),
			Issuer:         env("NSER_ISSUER", "nser"),
			AccessTokenTTL: p.duration("OPERATOR_TOKEN_TTL", 15*time.Minute),
		},
		Keys: Keys{
			TokenHashKey:    env("TOKEN_HASH_KEY", devTokenKey),
			CrossrefHashKey: env("CROSSREF_HASH_KEY", devCrossrefKey),
			OperatorJWTKey:  env("OPERATOR_JWT_KEY", devJWTKey),
			TokenPrefix:     env("TOKEN_PREFIX", "BST"),
		},
		Postgres: Postgres{
			DSN:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     p.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 200*time.Millisecond),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 200*time.Millisecond),
		},
		Kafka: Kafka{
			Brokers:     lists.SplitList(os.Getenv("KAFKA_BROKERS")),
			ClientID:    env("KAFKA_CLIENT_ID", "nser"),
			AuditTopic:  env("KAFKA_AUDIT_TOPIC", "nser.audit"),
			EventsTopic: env("KAFKA_EVENTS_TOPIC", "nser.exclusion-events"),
		},
		Propagation: Propagation{
			MaxRetries:     p.int("PROPAGATION_MAX_RETRIES", 5),
			BackoffCap:     p.duration("PROPAGATION_BACKOFF_CAP", 60*time.Second),
			AttemptTimeout: p.duration("PROPAGATION_ATTEMPT_TIMEOUT", 5*time.Second),
			FanOut:         p.int("PROPAGATION_FAN_OUT", 16),
			MaxInFlight:    int64(p.int("PROPAGATION_MAX_IN_FLIGHT", 64)),
			PollInterval:   p.duration("PROPAGATION_POLL_INTERVAL", 250*time.Millisecond),
		},
		Lookup: Lookup{
			CacheTTL: p.duration("LOOKUP_CACHE_TTL", 30*time.Second),
		},
		RateLimit: RateLimit{
			OperatorPerMinute: p.int("RATE_LIMIT_OPERATOR_PER_MINUTE", 600),
			TokenPerMinute:    p.int("RATE_LIMIT_TOKEN_PER_MINUTE", 20),
		},
		SweepInterval: p.duration("SWEEP_INTERVAL", time.Minute),
		OperatorsFile: os.Getenv("OPERATORS_FILE"),
		LogLevel:      env("LOG_LEVEL", "info"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if cfg.Lookup.CacheTTL <= 0 || cfg.Lookup.CacheTTL > MaxCacheTTL {
		cfg.Lookup.CacheTTL = MaxCacheTTL
	}
	if cfg.Propagation.AttemptTimeout > 30*time.Second {
		return nil, fmt.Errorf("PROPAGATION_ATTEMPT_TIMEOUT must be at most 30s, got %s", cfg.Propagation.AttemptTimeout)
	}
	if cfg.Propagation.MaxRetries < 1 {
		return nil, fmt.Errorf("PROPAGATION_MAX_RETRIES must be at least 1")
	}
	return cfg, nil
}

// UsesDevSecrets reports whether any key still has its development default.
// main logs a warning when it does.
func (c *Config) UsesDevSecrets() bool {
	return c.Server.AdminToken == devAdminToken ||
		c.Keys.TokenHashKey == devTokenKey ||
		c.Keys.CrossrefHashKey == devCrossrefKey ||
		c.Keys.OperatorJWTKey == devJWTKey
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}


// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
