package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/buywatch/internal/monitoring/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL             string        `yaml:"url"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (c Config) pool() (maxOpen, maxIdle int, lifetime time.Duration) {
	maxOpen, maxIdle, lifetime = 10, 2, time.Hour
	if c.MaxConns > 0 {
		maxOpen = c.MaxConns
	}
	if c.MinConns > 0 {
		maxIdle = min(c.MinConns, maxOpen)
	}
	if c.ConnMaxLifetime > 0 {
		lifetime = c.ConnMaxLifetime
	}
	return maxOpen, maxIdle, lifetime
}

// DB is the sqlx handle shared by the config, cursor and ledger repositories.
type DB struct {
	*sqlx.DB
}

// NewDB opens a pgx-backed pool and checks it answers within ctx.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := cfg.pool()
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(lifetime / 2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: db}, nil
}

func (db *DB) migrator() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db.DB.DB, fsys)
}

// Migrate applies the embedded schema migrations that have not run yet.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := db.migrator()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	results, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied migration", "version", r.Source.Version, "took", r.Duration)
	}
	return nil
}

// SchemaVersion is the latest applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int64, error) {
	m, err := db.migrator()
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}
	return m.GetDBVersion(ctx)
}

// StartMetricsCollector publishes pool usage every 15s until ctx ends.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s := db.Stats(); s.MaxOpenConnections > 0 {
					metrics.DBConnectionPoolUsage.Set(100 * float64(s.InUse) / float64(s.MaxOpenConnections))
				}
			}
		}
	}()
}

func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
