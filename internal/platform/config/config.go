package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Server    Server      `yaml:"server"`
	Database  Database    `yaml:"database"`
	Retry     Retry       `yaml:"retry"`
	Redis     RedisConfig `yaml:"redis"`
	RateLimit RateLimit   `yaml:"rateLimit"`
	Kafka     Kafka       `yaml:"kafka"`
	Outbox    Outbox      `yaml:"outbox"`
	Log       Log         `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Database selects the contact store and tunes the Postgres pool.
type Database struct {
	Backend         string        `yaml:"backend"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	TxTimeout       time.Duration `yaml:"txTimeout"`
	LockTimeout     time.Duration `yaml:"lockTimeout"`
}

// Retry bounds how often identify reruns after a lock conflict.
type Retry struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// RedisConfig configures the shared Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// RateLimit applies to /identify per client IP.
type RateLimit struct {
	Disabled bool          `yaml:"disabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Kafka configures the event publisher. No brokers means events are logged.
type Kafka struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"clientId"`
}

// Outbox tunes the event relay.
type Outbox struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Backend:         BackendMemory,
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			TxTimeout:       5 * time.Second,
			LockTimeout:     2 * time.Second,
		},
		Retry: Retry{
			MaxAttempts:     4,
			InitialInterval: 25 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		RateLimit: RateLimit{
			Requests: 100,
			Window:   time.Minute,
		},
		Kafka: Kafka{
			Topic:    "contact-events",
			ClientID: "idresolve",
		},
		Outbox: Outbox{
			PollInterval: time.Second,
			BatchSize:    100,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// IDRESOLVE_CONFIG (if any), then environment variables. Environment wins.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("IDRESOLVE_CONFIG"))
}

// LoadFrom is Load with an explicit YAML path; an empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and environment variables only.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for the %s backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Database.Backend)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if !c.RateLimit.Disabled && (c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit needs positive requests and window")
	}
	if c.Outbox.BatchSize < 1 || c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox needs positive batch size and poll interval")
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with every variable getenv reports as set.
func applyEnv(cfg *Config, getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.str("IDRESOLVE_ADDR", &cfg.Server.Addr)
	e.duration("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.str("STORE_BACKEND", &cfg.Database.Backend)
	e.str("DATABASE_URL", &cfg.Database.URL)
	e.integer("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.integer("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	e.duration("DB_TX_TIMEOUT", &cfg.Database.TxTimeout)
	e.duration("DB_LOCK_TIMEOUT", &cfg.Database.LockTimeout)

	e.integer("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	e.duration("RETRY_INITIAL_INTERVAL", &cfg.Retry.InitialInterval)

	e.str("REDIS_URL", &cfg.Redis.URL)
	e.integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	e.boolean("RATE_LIMIT_DISABLED", &cfg.RateLimit.Disabled)
	e.integer("RATE_LIMIT_REQUESTS", &cfg.RateLimit.Requests)
	e.duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	if brokers := getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	e.str("KAFKA_TOPIC", &cfg.Kafka.Topic)

	e.duration("OUTBOX_POLL_INTERVAL", &cfg.Outbox.PollInterval)
	e.integer("OUTBOX_BATCH_SIZE", &cfg.Outbox.BatchSize)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	return e.err
}

// envReader records the first malformed value it sees.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
