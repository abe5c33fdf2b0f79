// Package config loads engine tunables from the environment.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/odtrack/core/internal/logging"
)

const envPrefix = "ODSYNC"

// Config holds every tunable of the offline sync core. All knobs have
// working defaults so a zero-setup embed still behaves sensibly.
type Config struct {
	DataDir    string
	ListenAddr string
	LogLevel   string

	Queue  QueueConfig
	Cache  CacheConfig
	Worker WorkerConfig
	Remote RemoteConfig
}

// RemoteConfig points the daemon at its remote collaborators.
type RemoteConfig struct {
	BaseURL       string        // remote sync endpoint
	ProbeURL      string        // endpoint polled for connectivity
	ProbeInterval time.Duration
}

// QueueConfig tunes the sync queue retry and retention policy.
type QueueConfig struct {
	MaxSize          int
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration // cooldown for the first retry
	RetryBackoffMax  time.Duration // cap for the cooldown curve
	Retention        time.Duration // how long completed items stay queryable
	StalenessLimit   time.Duration // pending older than this flips isHealthy
}

// CacheConfig tunes cache expiration defaults.
type CacheConfig struct {
	FallbackTTL time.Duration // used when neither custom TTL nor category match
}

// WorkerConfig tunes the background sync worker.
type WorkerConfig struct {
	SyncInterval     time.Duration
	FailureThreshold int // consecutive failures before trigger backoff
	BackoffFactor    int // tick-skip multiplier once the threshold is hit
	ItemTimeout      time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		ListenAddr: "localhost:8091",
		LogLevel:   "info",
		Queue: QueueConfig{
			MaxSize:          1000,
			BatchSize:        20,
			MaxRetries:       3,
			RetryBackoffBase: time.Minute,
			RetryBackoffMax:  time.Hour,
			Retention:        7 * 24 * time.Hour,
			StalenessLimit:   24 * time.Hour,
		},
		Cache: CacheConfig{
			FallbackTTL: 30 * time.Minute,
		},
		Worker: WorkerConfig{
			SyncInterval:     time.Minute,
			FailureThreshold: 5,
			BackoffFactor:    4,
			ItemTimeout:      30 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL:       "http://localhost:8000/api/v1",
			ProbeURL:      "http://localhost:8000/api/v1/health",
			ProbeInterval: 30 * time.Second,
		},
	}
}

// Load reads configuration from a .env file (if present) and ODSYNC_*
// environment variables on top of the defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logging.Debug("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := Default()

	if s := v.GetString("data_dir"); s != "" {
		cfg.DataDir = s
	}
	if s := v.GetString("listen_addr"); s != "" {
		cfg.ListenAddr = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}

	if n := v.GetInt("queue_max_size"); n > 0 {
		cfg.Queue.MaxSize = n
	}
	if n := v.GetInt("queue_batch_size"); n > 0 {
		cfg.Queue.BatchSize = n
	}
	if n := v.GetInt("queue_max_retries"); n > 0 {
		cfg.Queue.MaxRetries = n
	}
	if d := v.GetDuration("queue_backoff_base"); d > 0 {
		cfg.Queue.RetryBackoffBase = d
	}
	if d := v.GetDuration("queue_backoff_max"); d > 0 {
		cfg.Queue.RetryBackoffMax = d
	}
	if d := v.GetDuration("queue_retention"); d > 0 {
		cfg.Queue.Retention = d
	}
	if d := v.GetDuration("queue_staleness_limit"); d > 0 {
		cfg.Queue.StalenessLimit = d
	}

	if d := v.GetDuration("cache_fallback_ttl"); d > 0 {
		cfg.Cache.FallbackTTL = d
	}

	if d := v.GetDuration("sync_interval"); d > 0 {
		cfg.Worker.SyncInterval = d
	}
	if n := v.GetInt("failure_threshold"); n > 0 {
		cfg.Worker.FailureThreshold = n
	}
	if n := v.GetInt("backoff_factor"); n > 0 {
		cfg.Worker.BackoffFactor = n
	}
	if d := v.GetDuration("item_timeout"); d > 0 {
		cfg.Worker.ItemTimeout = d
	}

	if s := v.GetString("remote_base_url"); s != "" {
		cfg.Remote.BaseURL = s
	}
	if s := v.GetString("remote_probe_url"); s != "" {
		cfg.Remote.ProbeURL = s
	}
	if d := v.GetDuration("remote_probe_interval"); d > 0 {
		cfg.Remote.ProbeInterval = d
	}

	return cfg
}
