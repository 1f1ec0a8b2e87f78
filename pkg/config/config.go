package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-pullsink/pkg/logging"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/illmade-knight/go-pullsink/pkg/tracing"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable that overrides the file.
const EnvPrefix = "PULLSINK_"

// Transports accepted in the transport option.
const (
	TransportREST = "rest"
	TransportGRPC = "grpc"
)

// BackoffConfig selects the pause policy between pulls.
type BackoffConfig struct {
	Policy     string        `yaml:"policy" env:"POLICY"`
	Interval   time.Duration `yaml:"interval" env:"INTERVAL"`
	Max        time.Duration `yaml:"max" env:"MAX"`
	Multiplier float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// GCSSinkConfig enables the archive sink when Bucket is set.
type GCSSinkConfig struct {
	Bucket string `yaml:"bucket" env:"BUCKET"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// BigQuerySinkConfig enables the BigQuery sink when Dataset and Table are set.
type BigQuerySinkConfig struct {
	Dataset string `yaml:"dataset" env:"DATASET"`
	Table   string `yaml:"table" env:"TABLE"`
}

// RedisSinkConfig enables the Redis sink when Addr is set.
type RedisSinkConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// FirestoreSinkConfig enables the Firestore sink when Collection is set.
type FirestoreSinkConfig struct {
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// SinksConfig lists the processors every message is handed to, in this order:
// log, gcs, bigquery, redis, firestore.
type SinksConfig struct {
	Log       bool                `yaml:"log" env:"LOG"`
	GCS       GCSSinkConfig       `yaml:"gcs" envPrefix:"GCS_"`
	BigQuery  BigQuerySinkConfig  `yaml:"bigquery" envPrefix:"BIGQUERY_"`
	Redis     RedisSinkConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Firestore FirestoreSinkConfig `yaml:"firestore" envPrefix:"FIRESTORE_"`
}

// Config is the full launcher configuration.
type Config struct {
	ProjectID      string        `yaml:"proj_name" env:"PROJECT_ID"`
	SubscriptionID string        `yaml:"sub_name" env:"SUBSCRIPTION_ID"`
	NumRetries     int           `yaml:"num_retries" env:"NUM_RETRIES"`
	BatchSize      int           `yaml:"batch_size" env:"BATCH_SIZE"`
	TimeWindow     time.Duration `yaml:"time_window" env:"TIME_WINDOW"`

	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`
	LogConsole bool   `yaml:"log_console" env:"LOG_CONSOLE"`

	Transport       string `yaml:"transport" env:"TRANSPORT"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
	// NoAuth disables client authentication, for emulators reached through Endpoint.
	NoAuth bool `yaml:"no_auth" env:"NO_AUTH"`

	Backoff BackoffConfig `yaml:"backoff" envPrefix:"BACKOFF_"`

	HealthFile   string        `yaml:"health_file" env:"HEALTH_FILE"`
	HealthMaxAge time.Duration `yaml:"health_max_age" env:"HEALTH_MAX_AGE"`
	HTTPPort     string        `yaml:"http_port" env:"HTTP_PORT"`

	Tracing tracing.Config `yaml:"tracing" envPrefix:"TRACING_"`
	Sinks   SinksConfig    `yaml:"sinks" envPrefix:"SINKS_"`
}

// ConfigurationError is returned for any configuration that cannot be used.
// Err aggregates every problem found.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Defaults returns a config holding every default value.
func Defaults() *Config {
	return &Config{
		BatchSize:  100,
		TimeWindow: 10 * time.Second,
		LogLevel:   "info",
		Transport:  TransportREST,
		Backoff: BackoffConfig{
			Policy:     messagepipeline.BackoffFixed,
			Interval:   messagepipeline.DefaultBackoffInterval,
			Max:        30 * time.Second,
			Multiplier: 2,
		},
		HealthFile:   "/tmp/health",
		HealthMaxAge: 5 * time.Minute,
		HTTPPort:     ":8080",
		Tracing: tracing.Config{
			ServiceName: "pullsink",
			SampleRate:  1,
		},
		Sinks: SinksConfig{Log: true},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then PULLSINK_ environment variables, and
// validates the result. Every failure is a *ConfigurationError.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("failed to read config file '%s': %w", path, err)}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to apply environment overrides: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.ProjectID == "" {
		result = multierror.Append(result, errors.New("proj_name is required"))
	}
	if c.SubscriptionID == "" {
		result = multierror.Append(result, errors.New("sub_name is required"))
	}
	if c.BatchSize < 1 {
		result = multierror.Append(result, fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize))
	}
	if c.TimeWindow <= 0 {
		result = multierror.Append(result, fmt.Errorf("time_window must be positive, got %s", c.TimeWindow))
	}
	if c.NumRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("num_retries cannot be negative, got %d", c.NumRetries))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Transport != TransportREST && c.Transport != TransportGRPC {
		result = multierror.Append(result, fmt.Errorf("unknown transport %q, want %s or %s", c.Transport, TransportREST, TransportGRPC))
	}
	if _, err := c.BackoffPolicy(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.HealthMaxAge <= 0 {
		result = multierror.Append(result, fmt.Errorf("health_max_age must be positive, got %s", c.HealthMaxAge))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		result = multierror.Append(result, fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate))
	}
	if (c.Sinks.BigQuery.Dataset == "") != (c.Sinks.BigQuery.Table == "") {
		result = multierror.Append(result, errors.New("sinks.bigquery needs both dataset and table"))
	}
	if c.Sinks.Redis.TTL < 0 {
		result = multierror.Append(result, fmt.Errorf("sinks.redis.ttl cannot be negative, got %s", c.Sinks.Redis.TTL))
	}

	if err := result.ErrorOrNil(); err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

// BackoffPolicy builds the configured pull backoff.
func (c *Config) BackoffPolicy() (messagepipeline.BackoffPolicy, error) {
	return messagepipeline.NewBackoffPolicy(c.Backoff.Policy, c.Backoff.Interval, c.Backoff.Max, c.Backoff.Multiplier)
}

// ConsumerConfig maps the batch options onto the consumer config.
func (c *Config) ConsumerConfig() (*messagepipeline.BatchingConsumerConfig, error) {
	backoff, err := c.BackoffPolicy()
	if err != nil {
		return nil, err
	}
	cfg := messagepipeline.NewBatchingConsumerDefaults(c.ProjectID, c.SubscriptionID)
	cfg.BatchSize = c.BatchSize
	cfg.TimeWindow = c.TimeWindow
	cfg.NumRetries = c.NumRetries
	cfg.Backoff = backoff
	return cfg, nil
}

// SubscriberConfig maps the transport options onto the subscriber client config.
func (c *Config) SubscriberConfig() *messagepipeline.GoogleSubscriberClientConfig {
	cfg := messagepipeline.NewGoogleSubscriberClientDefaults()
	cfg.CredentialsFile = c.CredentialsFile
	cfg.Endpoint = c.Endpoint
	cfg.NoAuth = c.NoAuth
	cfg.NumRetries = c.NumRetries
	return cfg
}
