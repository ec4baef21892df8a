package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Sync       SyncConfig       `yaml:"sync"`
	Database   DatabaseConfig   `yaml:"database"`
	Retention  RetentionConfig  `yaml:"retention"`
	Push       PushConfig       `yaml:"push"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// SyncConfig holds the provider synchronization configuration.
type SyncConfig struct {
	Enabled               bool          `yaml:"enabled"`
	PollIntervalSeconds   int           `yaml:"poll_interval_seconds"`
	PollInterval          time.Duration `yaml:"-"`
	TokenRefreshMinutes   int           `yaml:"token_refresh_minutes"`
	TokenRefreshInterval  time.Duration `yaml:"-"`
	QingpingOAuthURL      string        `yaml:"qingping_oauth_url"`
	QingpingAPIBaseURL    string        `yaml:"qingping_api_base_url"`
	HTTPProxy             string        `yaml:"http_proxy"`
	RequestTimeoutSeconds int           `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration `yaml:"-"`
	ConnectRetryDelaySecs int           `yaml:"connect_retry_delay_seconds"`
	ConnectRetryDelay     time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RetentionConfig holds the reading-retention cleanup configuration.
type RetentionConfig struct {
	BatchSize              int           `yaml:"batch_size"`
	SweepIntervalHours     int           `yaml:"sweep_interval_hours"`
	SweepInterval          time.Duration `yaml:"-"`
	JobPollIntervalSeconds int           `yaml:"job_poll_interval_seconds"`
	JobPollInterval        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// AlertsConfig holds the air-quality alert settings.
type AlertsConfig struct {
	Enabled      bool `yaml:"enabled"`
	AQIThreshold int  `yaml:"aqi_threshold"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Sync.PollIntervalSeconds <= 0 {
		cfg.Sync.PollIntervalSeconds = 300
	}
	cfg.Sync.PollInterval = time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second

	if cfg.Sync.TokenRefreshMinutes <= 0 {
		cfg.Sync.TokenRefreshMinutes = 90
	}
	cfg.Sync.TokenRefreshInterval = time.Duration(cfg.Sync.TokenRefreshMinutes) * time.Minute

	if cfg.Sync.RequestTimeoutSeconds <= 0 {
		cfg.Sync.RequestTimeoutSeconds = 30
	}
	cfg.Sync.RequestTimeout = time.Duration(cfg.Sync.RequestTimeoutSeconds) * time.Second

	if cfg.Sync.ConnectRetryDelaySecs <= 0 {
		cfg.Sync.ConnectRetryDelaySecs = 30
	}
	cfg.Sync.ConnectRetryDelay = time.Duration(cfg.Sync.ConnectRetryDelaySecs) * time.Second

	if cfg.Sync.QingpingOAuthURL == "" {
		cfg.Sync.QingpingOAuthURL = "https://oauth.cleargrass.com/oauth2/token"
	}
	if cfg.Sync.QingpingAPIBaseURL == "" {
		cfg.Sync.QingpingAPIBaseURL = "https://apis.cleargrass.com/v1/apis"
	}

	if cfg.Retention.BatchSize <= 0 {
		cfg.Retention.BatchSize = 500
	}
	if cfg.Retention.SweepIntervalHours <= 0 {
		cfg.Retention.SweepIntervalHours = 24
	}
	cfg.Retention.SweepInterval = time.Duration(cfg.Retention.SweepIntervalHours) * time.Hour

	if cfg.Retention.JobPollIntervalSeconds <= 0 {
		cfg.Retention.JobPollIntervalSeconds = 5
	}
	cfg.Retention.JobPollInterval = time.Duration(cfg.Retention.JobPollIntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Alerts.AQIThreshold <= 0 {
		cfg.Alerts.AQIThreshold = 150
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
