// Package bootstrap builds the configured store and notification pipeline
// for the server and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/okian/cadenza/internal/adapters/notify"
	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/internal/adapters/repository/mongostore"
	"github.com/okian/cadenza/internal/adapters/repository/natskv"
	"github.com/okian/cadenza/internal/config"
	"github.com/okian/cadenza/pkg/logger"
)

const connectTimeout = 15 * time.Second

// OpenStore connects the configured document backend.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreNATS:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		s, err := natskv.Connect(cctx, cfg.NATSURL, natskv.WithBucketPrefix(cfg.NATSBucketPrefix))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return s, nil
	case config.StoreMongo:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		s, err := mongostore.Connect(cctx, cfg.MongoURI, mongostore.WithDatabase(cfg.MongoDatabase))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return s, nil
	case config.StoreMemory, "":
		return repository.NewMemoryStore(ctx), nil
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}
}

// ApplySeed loads cfg.SeedFile into store when one is configured.
func ApplySeed(ctx context.Context, cfg *config.Config, store repository.Store) (int, error) {
	if cfg.SeedFile == "" {
		return 0, nil
	}
	seed, err := repository.LoadSeed(cfg.SeedFile)
	if err != nil {
		return 0, err
	}
	created, err := seed.Apply(ctx, store)
	if err != nil {
		return created, fmt.Errorf("apply seed %s: %w", cfg.SeedFile, err)
	}
	return created, nil
}

// NewSender returns the configured mail sender.
func NewSender(cfg *config.Config, l logger.Logger) notify.Sender {
	if cfg.Notifier == config.NotifierSendGrid {
		from := mail.Address{Name: cfg.SendGridFromName, Address: cfg.SendGridFromEmail}
		return notify.NewSendGridSender(cfg.SendGridAPIKey, from)
	}
	return notify.NewLogSender(l.Named("mail"))
}

// NewDispatcher builds the notification pipeline for the configured sender.
// The caller starts and shuts it down.
func NewDispatcher(cfg *config.Config, l logger.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(NewSender(cfg, l),
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithWorkerCount(cfg.NotifyWorkerCount),
		notify.WithLogger(l.Named("notify")),
	)
}
