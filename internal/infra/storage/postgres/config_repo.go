package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var _ storage.ConfigStore = (*ConfigRepo)(nil)

// ConfigRepo implements storage.ConfigStore using PostgreSQL.
type ConfigRepo struct {
	db *DB
}

// NewConfigRepo creates a new PostgreSQL config repository.
func NewConfigRepo(db *DB) *ConfigRepo {
	return &ConfigRepo{db: db}
}

type destinationRow struct {
	ID           string    `db:"id"`
	AnimationURL string    `db:"animation_url"`
	Emoji        string    `db:"emoji"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type watchRow struct {
	DestinationID string `db:"destination_id"`
	Chain         string `db:"chain"`
	Contract      string `db:"contract"`
}

const destinationColumns = `id, animation_url, emoji, created_at, updated_at`

// Get retrieves a destination config by id.
func (r *ConfigRepo) Get(ctx context.Context, destination string) (*domain.DestinationConfig, error) {
	var row destinationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = $1`, destination)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get destination: %v", domain.ErrConfigStoreUnavailable, err)
	}

	cfgs, err := r.attachWatches(ctx, []destinationRow{row})
	if err != nil {
		return nil, err
	}
	return &cfgs[0], nil
}

// ListActive returns destinations watching at least one contract on chain.
func (r *ConfigRepo) ListActive(ctx context.Context, chain domain.ChainID) ([]domain.DestinationConfig, error) {
	var rows []destinationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+destinationColumns+` FROM destinations d
		WHERE EXISTS (SELECT 1 FROM watches w WHERE w.destination_id = d.id AND w.chain = $1)
		ORDER BY d.id`, string(chain))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list active destinations: %v", domain.ErrConfigStoreUnavailable, err)
	}
	return r.attachWatches(ctx, rows)
}

// List returns every destination.
func (r *ConfigRepo) List(ctx context.Context) ([]domain.DestinationConfig, error) {
	var rows []destinationRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+destinationColumns+` FROM destinations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list destinations: %v", domain.ErrConfigStoreUnavailable, err)
	}
	return r.attachWatches(ctx, rows)
}

func (r *ConfigRepo) attachWatches(ctx context.Context, rows []destinationRow) ([]domain.DestinationConfig, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	out := make([]domain.DestinationConfig, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		index[row.ID] = i
		out[i] = domain.DestinationConfig{
			ID:           row.ID,
			Watches:      make(map[domain.ChainID][]domain.ContractAddress),
			AnimationURL: row.AnimationURL,
			Emoji:        row.Emoji,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
	}

	var watches []watchRow
	err := r.db.SelectContext(ctx, &watches, `
		SELECT destination_id, chain, contract FROM watches
		WHERE destination_id = ANY($1)
		ORDER BY destination_id, chain, position`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load watches: %v", domain.ErrConfigStoreUnavailable, err)
	}

	for _, w := range watches {
		d := &out[index[w.DestinationID]]
		chain := domain.ChainID(w.Chain)
		d.Watches[chain] = append(d.Watches[chain], domain.ContractAddress(w.Contract))
	}
	return out, nil
}

// Upsert replaces the destination row and its watch set in one transaction.
func (r *ConfigRepo) Upsert(ctx context.Context, cfg domain.DestinationConfig) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrConfigStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO destinations (id, animation_url, emoji, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			animation_url = EXCLUDED.animation_url,
			emoji = EXCLUDED.emoji,
			updated_at = NOW()`,
		cfg.ID, cfg.AnimationURL, cfg.Emoji,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert destination: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM watches WHERE destination_id = $1`, cfg.ID); err != nil {
		return fmt.Errorf("failed to clear watches: %w", err)
	}

	var chains, contracts, keys []string
	for chain, list := range cfg.Watches {
		for _, c := range list {
			chains = append(chains, string(chain))
			contracts = append(contracts, string(c))
			keys = append(keys, c.Key())
		}
	}

	if len(contracts) > 0 {
		// position keeps insertion order within the watch set
		_, err = tx.ExecContext(ctx, `
			INSERT INTO watches (destination_id, chain, contract, contract_key, position)
			SELECT $1, w.chain, w.contract, w.contract_key, w.ord
			FROM unnest($2::text[], $3::text[], $4::text[]) WITH ORDINALITY AS w(chain, contract, contract_key, ord)`,
			cfg.ID, pq.Array(chains), pq.Array(contracts), pq.Array(keys),
		)
		if err != nil {
			return fmt.Errorf("failed to insert watches: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit destination: %w", err)
	}
	return nil
}
