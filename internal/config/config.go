// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"time"
)

// Supported store backends.
const (
	StoreMemory = "memory"
	StoreNATS   = "nats"
	StoreMongo  = "mongo"
)

// Supported notifiers.
const (
	NotifierLog      = "log"
	NotifierSendGrid = "sendgrid"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the document backend: memory, nats or mongo.
	Store string `koanf:"store"`

	NATSURL          string `koanf:"nats_url"`
	NATSBucketPrefix string `koanf:"nats_bucket_prefix"`

	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`

	// SeedFile is an optional YAML fixture of students, courses and classes
	// loaded at startup.
	SeedFile string `koanf:"seed_file"`

	// Notifier selects delivery: log or sendgrid.
	Notifier          string `koanf:"notifier"`
	SendGridAPIKey    string `koanf:"sendgrid_api_key"`
	SendGridFromEmail string `koanf:"sendgrid_from_email"`
	SendGridFromName  string `koanf:"sendgrid_from_name"`

	// NotifyQueueSize bounds undelivered notifications.
	NotifyQueueSize int `koanf:"notify_queue_size"`

	// NotifyWorkerCount sets the number of delivery workers.
	NotifyWorkerCount int `koanf:"notify_worker_count"`

	// SubmitTimeoutMS bounds one whole submission.
	SubmitTimeoutMS int `koanf:"submit_timeout_ms"`

	// AggregateMaxRetries caps optimistic-lock retries per write.
	AggregateMaxRetries int `koanf:"aggregate_max_retries"`

	// DedupeSize sets how many idempotency keys are remembered.
	DedupeSize int `koanf:"dedupe_size"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		Store:               StoreMemory,
		NATSURL:             "nats://127.0.0.1:4222",
		NATSBucketPrefix:    "cadenza",
		MongoDatabase:       "cadenza",
		Notifier:            NotifierLog,
		SendGridFromName:    "Cadenza Academy",
		NotifyQueueSize:     1024,
		NotifyWorkerCount:   4,
		SubmitTimeoutMS:     10_000,
		AggregateMaxRetries: 8,
		DedupeSize:          50_000,
	}
}

// SubmitTimeout returns SubmitTimeoutMS as a duration.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutMS) * time.Millisecond
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Store {
	case StoreMemory:
	case StoreNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("%w: nats_url is required for store %q", ErrInvalidConfig, c.Store)
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: mongo_uri is required for store %q", ErrInvalidConfig, c.Store)
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("%w: mongo_database is required for store %q", ErrInvalidConfig, c.Store)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	switch c.Notifier {
	case NotifierLog:
	case NotifierSendGrid:
		if c.SendGridAPIKey == "" || c.SendGridFromEmail == "" {
			return fmt.Errorf("%w: sendgrid_api_key and sendgrid_from_email are required for notifier %q", ErrInvalidConfig, c.Notifier)
		}
	default:
		return fmt.Errorf("%w: unknown notifier %q", ErrInvalidConfig, c.Notifier)
	}
	if c.SubmitTimeoutMS <= 0 {
		return fmt.Errorf("%w: submit_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.AggregateMaxRetries < 0 {
		return fmt.Errorf("%w: aggregate_max_retries must not be negative", ErrInvalidConfig)
	}
	return nil
}
