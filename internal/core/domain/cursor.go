package domain

import "time"

// Cursor is a data source's read position. Key partitions a chain's cursors,
// e.g. "blocks" for EVM log scans or a mint address for Solana signature scans.
// Position is opaque to everything but the owning source.
type Cursor struct {
	Chain     ChainID
	Key       string
	Position  string
	UpdatedAt time.Time
}
