// Package config loads the application configuration from YAML with
// environment variable overrides for secrets.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Queue     QueueConfig     `yaml:"queue"`
	Workers   WorkerConfig    `yaml:"workers"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, binding to all interfaces when running
// in a container.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// TransportConfig selects and configures the delivery provider.
type TransportConfig struct {
	// Provider is "sparkpost" or "ses".
	Provider  string          `yaml:"provider"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	SES       SESConfig       `yaml:"ses"`
}

// SparkPostConfig holds SparkPost API configuration.
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// MailerConfig holds sending behavior defaults.
type MailerConfig struct {
	DefaultFromEmail string `yaml:"default_from_email"`
	DefaultFromName  string `yaml:"default_from_name"`
	QueueByDefault   bool   `yaml:"queue_by_default"`
}

// QueueConfig holds queue sizing and retry policy.
type QueueConfig struct {
	MaxSize             int      `yaml:"max_size"`
	MaxAttempts         int      `yaml:"max_attempts"`
	InitialDelaySeconds int      `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int      `yaml:"max_delay_seconds"`
	Multiplier          float64  `yaml:"multiplier"`
	RetryableErrors     []string `yaml:"retryable_errors"`
}

// InitialDelay returns the first retry delay as a duration.
func (c QueueConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// MaxDelay returns the backoff cap as a duration.
func (c QueueConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// WorkerConfig sizes the background worker pool.
type WorkerConfig struct {
	Count               int `yaml:"count"`
	BatchSize           int `yaml:"batch_size"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SweepIntervalMins   int `yaml:"sweep_interval_mins"`
	QueueRetentionHours int `yaml:"queue_retention_hours"`
	LogRetentionHours   int `yaml:"log_retention_hours"`
}

// PollInterval returns how often idle workers re-check the queue.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SweepInterval returns how often the janitor runs.
func (c WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMins) * time.Minute
}

// QueueRetention returns how long terminal queue items are kept.
func (c WorkerConfig) QueueRetention() time.Duration {
	return time.Duration(c.QueueRetentionHours) * time.Hour
}

// LogRetention returns how long log events are kept.
func (c WorkerConfig) LogRetention() time.Duration {
	return time.Duration(c.LogRetentionHours) * time.Hour
}

// RateLimitConfig enables Redis-backed send throttling.
type RateLimitConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	MaxEntries int    `yaml:"max_entries"`
	RedactPII  *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Transport.Provider == "" {
		cfg.Transport.Provider = "sparkpost"
	}
	if cfg.Transport.SparkPost.TimeoutSeconds == 0 {
		cfg.Transport.SparkPost.TimeoutSeconds = 30
	}
	if cfg.Transport.SES.Region == "" {
		cfg.Transport.SES.Region = "us-east-1"
	}
	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = 100_000
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.InitialDelaySeconds == 0 {
		cfg.Queue.InitialDelaySeconds = 60
	}
	if cfg.Queue.MaxDelaySeconds == 0 {
		cfg.Queue.MaxDelaySeconds = 3600
	}
	if cfg.Queue.Multiplier == 0 {
		cfg.Queue.Multiplier = 2.0
	}
	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = 4
	}
	if cfg.Workers.BatchSize == 0 {
		cfg.Workers.BatchSize = 25
	}
	if cfg.Workers.PollIntervalSeconds == 0 {
		cfg.Workers.PollIntervalSeconds = 5
	}
	if cfg.Workers.SweepIntervalMins == 0 {
		cfg.Workers.SweepIntervalMins = 10
	}
	if cfg.Workers.QueueRetentionHours == 0 {
		cfg.Workers.QueueRetentionHours = 7 * 24
	}
	if cfg.Workers.LogRetentionHours == 0 {
		cfg.Workers.LogRetentionHours = 30 * 24
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxEntries == 0 {
		cfg.Logging.MaxEntries = 100_000
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file (if present) is read first, so secrets can live there locally
// and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.Transport.SparkPost.APIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Transport.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Transport.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Transport.SES.Region = v
	}
	if v := os.Getenv("MAIL_TRANSPORT"); v != "" {
		cfg.Transport.Provider = v
	}
	if v := os.Getenv("MAIL_DEFAULT_FROM"); v != "" {
		cfg.Mailer.DefaultFromEmail = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RateLimit.RedisURL = v
		cfg.RateLimit.Enabled = true
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}
