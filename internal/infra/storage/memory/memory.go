package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var (
	_ storage.ConfigStore      = (*ConfigStore)(nil)
	_ storage.DedupLedger      = (*Ledger)(nil)
	_ storage.PendingQueue     = (*PendingQueue)(nil)
	_ storage.CursorRepository = (*CursorRepo)(nil)
)

// -----------------------------------------------------------------------------
// Config Store
// -----------------------------------------------------------------------------

type ConfigStore struct {
	mu    sync.RWMutex
	dests map[string]domain.DestinationConfig
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{dests: make(map[string]domain.DestinationConfig)}
}

func (s *ConfigStore) Get(ctx context.Context, destination string) (*domain.DestinationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dests[destination]
	if !ok {
		return nil, nil
	}
	c := d.Clone()
	return &c, nil
}

func (s *ConfigStore) ListActive(ctx context.Context, chain domain.ChainID) ([]domain.DestinationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DestinationConfig
	for _, d := range s.dests {
		if len(d.Watching(chain)) > 0 {
			out = append(out, d.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *ConfigStore) List(ctx context.Context) ([]domain.DestinationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DestinationConfig, 0, len(s.dests))
	for _, d := range s.dests {
		out = append(out, d.Clone())
	}
	sortByID(out)
	return out, nil
}

func (s *ConfigStore) Upsert(ctx context.Context, cfg domain.DestinationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cfg.Clone()
	c.UpdatedAt = time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	s.dests[cfg.ID] = c
	return nil
}

func sortByID(list []domain.DestinationConfig) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

// -----------------------------------------------------------------------------
// Dedup Ledger
// -----------------------------------------------------------------------------

type ledgerKey struct {
	destination string
	chain       domain.ChainID
}

type Ledger struct {
	mu   sync.RWMutex
	seen map[ledgerKey]map[domain.EventKey]time.Time
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[ledgerKey]map[domain.EventKey]time.Time)}
}

func (l *Ledger) HasSeen(
	ctx context.Context,
	destination string,
	chain domain.ChainID,
	key domain.EventKey,
) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[ledgerKey{destination, chain}][key]
	return ok, nil
}

func (l *Ledger) MarkSeen(
	ctx context.Context,
	destination string,
	chain domain.ChainID,
	key domain.EventKey,
	blockTime time.Time,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey{destination, chain}
	set, ok := l.seen[k]
	if !ok {
		set = make(map[domain.EventKey]time.Time)
		l.seen[k] = set
	}
	if _, dup := set[key]; !dup {
		set[key] = blockTime
	}
	return nil
}

func (l *Ledger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for k, set := range l.seen {
		for key, at := range set {
			if at.Before(olderThan) {
				delete(set, key)
				n++
			}
		}
		if len(set) == 0 {
			delete(l.seen, k)
		}
	}
	return n, nil
}

func (l *Ledger) Count(ctx context.Context, destination string, chain domain.ChainID) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen[ledgerKey{destination, chain}]), nil
}

// -----------------------------------------------------------------------------
// Pending Queue
// -----------------------------------------------------------------------------

type parkedEvent struct {
	ev  domain.PurchaseEvent
	seq uint64
}

type PendingQueue struct {
	mu    sync.Mutex
	seq   uint64
	items map[ledgerKey]map[domain.EventKey]parkedEvent
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{items: make(map[ledgerKey]map[domain.EventKey]parkedEvent)}
}

func (q *PendingQueue) Park(ctx context.Context, destination string, ev domain.PurchaseEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := ledgerKey{destination, ev.Chain}
	set, ok := q.items[k]
	if !ok {
		set = make(map[domain.EventKey]parkedEvent)
		q.items[k] = set
	}
	if _, dup := set[ev.Key()]; dup {
		return nil
	}
	q.seq++
	set[ev.Key()] = parkedEvent{ev: ev, seq: q.seq}
	return nil
}

func (q *PendingQueue) Pending(ctx context.Context, destination string, chain domain.ChainID) ([]domain.PurchaseEvent, error) {
	q.mu.Lock()
	set := q.items[ledgerKey{destination, chain}]
	list := make([]parkedEvent, 0, len(set))
	for _, p := range set {
		list = append(list, p)
	}
	q.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if c := storage.CompareBlocks(list[i].ev, list[j].ev); c != 0 {
			return c < 0
		}
		return list[i].seq < list[j].seq
	})
	out := make([]domain.PurchaseEvent, len(list))
	for i, p := range list {
		out[i] = p.ev
	}
	return out, nil
}

func (q *PendingQueue) Release(ctx context.Context, destination string, chain domain.ChainID, key domain.EventKey) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := ledgerKey{destination, chain}
	delete(q.items[k], key)
	if len(q.items[k]) == 0 {
		delete(q.items, k)
	}
	return nil
}

func (q *PendingQueue) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for k, set := range q.items {
		for key, p := range set {
			if p.ev.BlockTime.Before(olderThan) {
				delete(set, key)
				n++
			}
		}
		if len(set) == 0 {
			delete(q.items, k)
		}
	}
	return n, nil
}

func (q *PendingQueue) Count(ctx context.Context, destination string, chain domain.ChainID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[ledgerKey{destination, chain}]), nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	mu      sync.RWMutex
	cursors map[string]domain.Cursor
}

func NewCursorRepo() *CursorRepo {
	return &CursorRepo{cursors: make(map[string]domain.Cursor)}
}

func (r *CursorRepo) Get(ctx context.Context, chain domain.ChainID, key string) (*domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[string(chain)+"/"+key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor domain.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	r.cursors[string(cursor.Chain)+"/"+cursor.Key] = cursor
	return nil
}
