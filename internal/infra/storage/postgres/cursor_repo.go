package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var _ storage.CursorRepository = (*CursorRepo)(nil)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	Chain     string    `db:"chain"`
	Key       string    `db:"key"`
	Position  string    `db:"position"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Save saves a cursor to the database.
func (r *CursorRepo) Save(ctx context.Context, cursor domain.Cursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (chain, key, position, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain, key) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`,
		string(cursor.Chain), cursor.Key, cursor.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Get retrieves a cursor by chain and key.
func (r *CursorRepo) Get(ctx context.Context, chain domain.ChainID, key string) (*domain.Cursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT chain, key, position, updated_at FROM cursors WHERE chain = $1 AND key = $2`,
		string(chain), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	return &domain.Cursor{
		Chain:     domain.ChainID(row.Chain),
		Key:       row.Key,
		Position:  row.Position,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// List returns every saved cursor, used by the status command.
func (r *CursorRepo) List(ctx context.Context) ([]domain.Cursor, error) {
	var rows []cursorRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT chain, key, position, updated_at FROM cursors ORDER BY chain, key`); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	out := make([]domain.Cursor, len(rows))
	for i, row := range rows {
		out[i] = domain.Cursor{
			Chain:     domain.ChainID(row.Chain),
			Key:       row.Key,
			Position:  row.Position,
			UpdatedAt: row.UpdatedAt,
		}
	}
	return out, nil
}
