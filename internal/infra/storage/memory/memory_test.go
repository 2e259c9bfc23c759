package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
)

func TestConfigStore_ListActive(t *testing.T) {
	ctx := context.Background()
	s := NewConfigStore()

	b := domain.NewDestination("b")
	b.AddWatch(domain.ChainETH, "0x0000000000000000000000000000000000000001")
	a := domain.NewDestination("a")
	a.AddWatch(domain.ChainETH, "0x0000000000000000000000000000000000000002")
	c := domain.NewDestination("c")
	c.AddWatch(domain.ChainSolana, "Mint")

	for _, d := range []domain.DestinationConfig{b, a, c} {
		if err := s.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	active, err := s.ListActive(ctx, domain.ChainETH)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Errorf("expected [a b], got %+v", active)
	}
}

func TestConfigStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewConfigStore()

	d := domain.NewDestination("x")
	d.AddWatch(domain.ChainBNB, "0x0000000000000000000000000000000000000001")
	_ = s.Upsert(ctx, d)

	got, _ := s.Get(ctx, "x")
	got.AddWatch(domain.ChainBNB, "0x0000000000000000000000000000000000000002")

	again, _ := s.Get(ctx, "x")
	if len(again.Watching(domain.ChainBNB)) != 1 {
		t.Error("caller mutation leaked into the store")
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown destination, got %v, %v", missing, err)
	}
}

func TestLedger_ScopedPerDestinationAndChain(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Now()

	_ = l.MarkSeen(ctx, "d1", domain.ChainETH, txKey("0xtx"), now)

	tests := []struct {
		dest  string
		chain domain.ChainID
		want  bool
	}{
		{"d1", domain.ChainETH, true},
		{"d2", domain.ChainETH, false},
		{"d1", domain.ChainBase, false},
	}
	for _, tt := range tests {
		got, _ := l.HasSeen(ctx, tt.dest, tt.chain, txKey("0xtx"))
		if got != tt.want {
			t.Errorf("HasSeen(%s, %s) = %v, want %v", tt.dest, tt.chain, got, tt.want)
		}
	}
}

func TestLedger_Prune(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Now()

	_ = l.MarkSeen(ctx, "d", domain.ChainETH, txKey("old"), now.Add(-8*24*time.Hour))
	_ = l.MarkSeen(ctx, "d", domain.ChainETH, txKey("new"), now.Add(-time.Hour))

	n, err := l.Prune(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if seen, _ := l.HasSeen(ctx, "d", domain.ChainETH, txKey("new")); !seen {
		t.Error("record inside the horizon must survive pruning")
	}
	if count, _ := l.Count(ctx, "d", domain.ChainETH); count != 1 {
		t.Errorf("expected 1 record left, got %d", count)
	}
}

func TestLedger_ConcurrentMarkSeen(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.MarkSeen(ctx, "d", domain.ChainSolana, txKey("sig"), time.Now())
		}()
	}
	wg.Wait()

	if count, _ := l.Count(ctx, "d", domain.ChainSolana); count != 1 {
		t.Errorf("idempotent inserts should leave one record, got %d", count)
	}
}

func TestCursorRepo(t *testing.T) {
	ctx := context.Background()
	r := NewCursorRepo()

	if c, _ := r.Get(ctx, domain.ChainETH, "blocks"); c != nil {
		t.Fatalf("expected nil cursor, got %+v", c)
	}

	_ = r.Save(ctx, domain.Cursor{Chain: domain.ChainETH, Key: "blocks", Position: "100"})
	c, _ := r.Get(ctx, domain.ChainETH, "blocks")
	if c == nil || c.Position != "100" || c.UpdatedAt.IsZero() {
		t.Errorf("unexpected cursor %+v", c)
	}
}

func txKey(tx string) domain.EventKey {
	return domain.EventKey{TxID: tx, Contract: "0xtoken"}
}

func TestLedger_TwoTokensOneTx(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	pepe := domain.EventKey{TxID: "0xabc", Contract: "0xpepe"}
	usdt := domain.EventKey{TxID: "0xabc", Contract: "0xusdt"}
	_ = l.MarkSeen(ctx, "d", domain.ChainETH, pepe, time.Now())

	if seen, _ := l.HasSeen(ctx, "d", domain.ChainETH, usdt); seen {
		t.Error("second token of the same tx reported as seen")
	}
	_ = l.MarkSeen(ctx, "d", domain.ChainETH, usdt, time.Now())
	if count, _ := l.Count(ctx, "d", domain.ChainETH); count != 2 {
		t.Errorf("expected 2 records, got %d", count)
	}
}

func parkedEv(tx string, block uint64, at time.Time) domain.PurchaseEvent {
	return domain.PurchaseEvent{
		Chain: domain.ChainETH, Contract: "0xpepe", TxID: tx, BlockNumber: block, BlockTime: at,
	}
}

func TestPendingQueue(t *testing.T) {
	ctx := context.Background()
	q := NewPendingQueue()
	now := time.Now()

	for _, ev := range []domain.PurchaseEvent{
		parkedEv("0x3", 12, now),
		parkedEv("0x1", 10, now.Add(-2*time.Minute)),
		parkedEv("0x2", 11, now.Add(-time.Minute)),
		parkedEv("0x1", 10, now.Add(-2*time.Minute)),
	} {
		if err := q.Park(ctx, "d", ev); err != nil {
			t.Fatalf("Park failed: %v", err)
		}
	}

	got, err := q.Pending(ctx, "d", domain.ChainETH)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(got) != 3 || got[0].TxID != "0x1" || got[1].TxID != "0x2" || got[2].TxID != "0x3" {
		t.Fatalf("expected [0x1 0x2 0x3] once each, got %+v", got)
	}
	if other, _ := q.Pending(ctx, "other", domain.ChainETH); len(other) != 0 {
		t.Errorf("queue leaked across destinations: %+v", other)
	}

	if err := q.Release(ctx, "d", domain.ChainETH, got[1].Key()); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if n, _ := q.Count(ctx, "d", domain.ChainETH); n != 2 {
		t.Errorf("expected 2 parked after release, got %d", n)
	}

	n, err := q.Prune(ctx, now.Add(-90*time.Second))
	if err != nil || n != 1 {
		t.Errorf("Prune = %d, %v; want 1", n, err)
	}
	left, _ := q.Pending(ctx, "d", domain.ChainETH)
	if len(left) != 1 || left[0].TxID != "0x3" {
		t.Errorf("expected only 0x3 left, got %+v", left)
	}
}
