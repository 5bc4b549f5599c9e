package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

type (
	// Config holds configuration settings for the engine and its surfaces
	Config struct {
		DatabasePath string `mapstructure:"database_path"`

		// QueueBackend selects the trigger queue: memory, sqlite or redis
		QueueBackend string `mapstructure:"queue_backend"`

		// RunStore selects where run records live: sqlite or redis
		RunStore string `mapstructure:"run_store"`

		Redis   RedisConfig   `mapstructure:"redis"`
		API     APIConfig     `mapstructure:"api"`
		Log     LogConfig     `mapstructure:"log"`
		Engine  EngineConfig  `mapstructure:"engine"`
		Webhook WebhookConfig `mapstructure:"webhook"`

		// ArchiveURL is a gocloud blob URL (file:///..., mem://); empty
		// disables archiving of finished runs
		ArchiveURL string `mapstructure:"archive_url"`

		// Intervals adds or overrides named schedule intervals, in seconds
		Intervals map[string]int `mapstructure:"intervals"`
	}

	RedisConfig struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	}

	APIConfig struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	}

	LogConfig struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	EngineConfig struct {
		JobTimeout          time.Duration `mapstructure:"job_timeout"`
		ProblemThreshold    int           `mapstructure:"problem_threshold"`
		DedupMinTopicLength int           `mapstructure:"dedup_min_topic_length"`
		Workers             int           `mapstructure:"workers"`
		PollInterval        time.Duration `mapstructure:"poll_interval"`
	}

	WebhookConfig struct {
		Timeout time.Duration `mapstructure:"timeout"`

		// URL is the fallback agent_ping target for bindings without a
		// webhook_url setting
		URL string `mapstructure:"url"`
	}

	// Holder owns the current configuration. Readers call Get; the owner
	// calls Reload after the underlying settings change
	Holder struct {
		path    string
		current atomic.Pointer[Config]
	}
)

const (
	QueueBackendMemory = "memory"
	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"

	RunStoreSQLite = "sqlite"
	RunStoreRedis  = "redis"

	DefaultDatabasePath        = "contentflow.db"
	DefaultAPIHost             = "0.0.0.0"
	DefaultAPIPort             = 8080
	DefaultRedisAddr           = "localhost:6379"
	DefaultRedisPrefix         = "contentflow:"
	DefaultJobTimeout          = 600 * time.Second
	DefaultProblemThreshold    = 3
	DefaultDedupMinTopicLength = 4
	DefaultWorkers             = 2
	DefaultPollInterval        = time.Second
	DefaultWebhookTimeout      = 10 * time.Second

	MaxTCPPort = 65535
	EnvPrefix  = "CONTENTFLOW"
)

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidQueueBackend     = errors.New("invalid queue backend")
	ErrInvalidRunStore         = errors.New("invalid run store")
	ErrInvalidJobTimeout       = errors.New("job timeout must be positive")
	ErrInvalidProblemThreshold = errors.New(
		"problem threshold must be positive",
	)
	ErrInvalidWorkers      = errors.New("worker count must be positive")
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
	ErrInvalidInterval     = errors.New("named interval must be positive")
	ErrMissingDatabasePath = errors.New("database path is required")
	ErrMissingRedisAddr    = errors.New(
		"redis address is required for the redis backend",
	)
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, stores and surfaces
func NewDefaultConfig() *Config {
	return &Config{
		DatabasePath: DefaultDatabasePath,
		QueueBackend: QueueBackendSQLite,
		RunStore:     RunStoreSQLite,
		Redis: RedisConfig{
			Addr:   DefaultRedisAddr,
			Prefix: DefaultRedisPrefix,
		},
		API: APIConfig{
			Host: DefaultAPIHost,
			Port: DefaultAPIPort,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			JobTimeout:          DefaultJobTimeout,
			ProblemThreshold:    DefaultProblemThreshold,
			DedupMinTopicLength: DefaultDedupMinTopicLength,
			Workers:             DefaultWorkers,
			PollInterval:        DefaultPollInterval,
		},
		Webhook: WebhookConfig{
			Timeout: DefaultWebhookTimeout,
		},
	}
}

// Load reads the configuration file at path (optional) and the
// CONTENTFLOW_* environment on top of the defaults, then validates it
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, NewDefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("queue_backend", d.QueueBackend)
	v.SetDefault("run_store", d.RunStore)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("engine.job_timeout", d.Engine.JobTimeout)
	v.SetDefault("engine.problem_threshold", d.Engine.ProblemThreshold)
	v.SetDefault("engine.dedup_min_topic_length", d.Engine.DedupMinTopicLength)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.poll_interval", d.Engine.PollInterval)
	v.SetDefault("webhook.timeout", d.Webhook.Timeout)
	v.SetDefault("webhook.url", d.Webhook.URL)
	v.SetDefault("archive_url", d.ArchiveURL)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.API.Port)
	}

	switch c.QueueBackend {
	case QueueBackendMemory, QueueBackendSQLite, QueueBackendRedis:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidQueueBackend, c.QueueBackend)
	}

	switch c.RunStore {
	case RunStoreSQLite, RunStoreRedis:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidRunStore, c.RunStore)
	}

	if c.DatabasePath == "" {
		return ErrMissingDatabasePath
	}

	if c.usesRedis() && c.Redis.Addr == "" {
		return ErrMissingRedisAddr
	}

	if c.Engine.JobTimeout <= 0 {
		return ErrInvalidJobTimeout
	}

	if c.Engine.ProblemThreshold <= 0 {
		return ErrInvalidProblemThreshold
	}

	if c.Engine.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.Engine.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	for name, secs := range c.Intervals {
		if secs <= 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidInterval, name, secs)
		}
	}

	return nil
}

func (c *Config) usesRedis() bool {
	return c.QueueBackend == QueueBackendRedis || c.RunStore == RunStoreRedis
}

// IntervalSeconds returns the configured named intervals as durations
func (c *Config) IntervalSeconds() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Intervals))
	for name, secs := range c.Intervals {
		out[name] = time.Duration(secs) * time.Second
	}
	return out
}

// NewHolder loads the configuration at path and keeps it as current
func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Get returns the current configuration. Callers must not mutate it
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Reload re-reads the configuration. The current configuration is kept
// when the new one fails to load or validate
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}
