package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/buywatch/internal/core/config"
	redisclient "github.com/vietddude/buywatch/internal/infra/redis"
	"github.com/vietddude/buywatch/internal/infra/storage"
	"github.com/vietddude/buywatch/internal/infra/storage/memory"
	"github.com/vietddude/buywatch/internal/infra/storage/postgres"
)

// Stores groups the persistence backends selected by configuration.
type Stores struct {
	Configs storage.ConfigStore
	Ledger  storage.DedupLedger
	Pending storage.PendingQueue
	Cursors storage.CursorRepository

	// Persistent reports whether configs and cursors survive a restart.
	Persistent bool

	db          *postgres.DB
	redisClient *redisclient.Client
}

// OpenStores connects the configured backends. Destination configs and cursors live in
// PostgreSQL when database.url is set and in memory otherwise; the dedup ledger and the
// pending queue follow monitor.ledger.
func OpenStores(ctx context.Context, cfg *config.AppConfig) (*Stores, error) {
	s := &Stores{}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		s.Configs = postgres.NewConfigRepo(db)
		s.Cursors = postgres.NewCursorRepo(db)
		s.Persistent = true
		slog.Info("Using PostgreSQL storage")
	} else {
		s.Configs = memory.NewConfigStore()
		s.Cursors = memory.NewCursorRepo()
		slog.Info("Using Memory storage")
	}

	switch cfg.Monitor.Ledger {
	case "postgres":
		if s.db == nil {
			_ = s.Close()
			return nil, errors.New("ledger backend postgres requires database.url")
		}
		s.Ledger = postgres.NewLedgerRepo(s.db)
		s.Pending = postgres.NewPendingRepo(s.db)
	case "redis":
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		s.redisClient = client
		s.Ledger = redisclient.NewLedger(client)
		s.Pending = redisclient.NewPendingQueue(client)
	default:
		s.Ledger = memory.NewLedger()
		s.Pending = memory.NewPendingQueue()
	}
	slog.Info("Dedup ledger ready", "backend", cfg.Monitor.Ledger)

	return s, nil
}

// DB returns the PostgreSQL handle, or nil for memory storage.
func (s *Stores) DB() *postgres.DB {
	return s.db
}

// Health pings the network backends.
func (s *Stores) Health(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the backend connections.
func (s *Stores) Close() error {
	var errs []error
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
