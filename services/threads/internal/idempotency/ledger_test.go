package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	_ Ledger = (*memoryLedger)(nil)
	_ Ledger = (*redisLedger)(nil)
	_ Ledger = (*postgresLedger)(nil)
)

func TestMemoryLedger_SeenOnlyAfterRecord(t *testing.T) {
	l := newMemoryLedger(time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		seen, err := l.Seen(ctx, "evt_001")
		if err != nil {
			t.Fatalf("seen: %v", err)
		}
		if seen {
			t.Fatal("looking an event up must not record it")
		}
	}
	if err := l.Record(ctx, Entry{EventID: "evt_001", CommentID: "c1", Outcome: "applied"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if seen, _ := l.Seen(ctx, "evt_001"); !seen {
		t.Fatal("recorded event should be seen")
	}
}

func TestMemoryLedger_FirstRecordWins(t *testing.T) {
	l := newMemoryLedger(0)
	ctx := context.Background()

	_ = l.Record(ctx, Entry{EventID: "evt_002", CommentID: "c1", Outcome: "applied"})
	_ = l.Record(ctx, Entry{EventID: "evt_002", CommentID: "c1", Outcome: "conflict"})
	if got := l.entries["evt_002"].Outcome; got != "applied" {
		t.Fatalf("expected first outcome to be kept, got %q", got)
	}
}

func TestMemoryLedger_ExpiresAndSweeps(t *testing.T) {
	l := newMemoryLedger(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_ = l.Record(ctx, Entry{EventID: "old"})
	now = now.Add(2 * time.Minute)
	if seen, _ := l.Seen(ctx, "old"); seen {
		t.Fatal("expired entry should not be seen")
	}
	_ = l.Record(ctx, Entry{EventID: "new"})
	if _, ok := l.entries["old"]; ok {
		t.Fatal("expired entry should be swept on record")
	}
	if len(l.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(l.entries))
	}
}

func TestMemoryLedger_RespectsCancellation(t *testing.T) {
	l := newMemoryLedger(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Seen(ctx, "evt"); !errors.Is(err, context.Canceled) {
		t.Fatalf("seen: expected context.Canceled, got %v", err)
	}
	if err := l.Record(ctx, Entry{EventID: "evt"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("record: expected context.Canceled, got %v", err)
	}
	if len(l.entries) != 0 {
		t.Fatal("cancelled record must not store anything")
	}
}

func TestNewLedger_PrefersRedis(t *testing.T) {
	l, err := NewLedger("redis://localhost:6379/0", nil, time.Hour, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*redisLedger); !ok {
		t.Fatalf("expected redisLedger, got %T", l)
	}
	_ = l.Close()
}

func TestNewLedger_FallsBackToMemory(t *testing.T) {
	l, err := NewLedger("", nil, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*memoryLedger); !ok {
		t.Fatalf("expected memoryLedger when nothing is configured, got %T", l)
	}
}

func TestNewLedger_RejectsMemoryInProd(t *testing.T) {
	l, err := NewLedger("", nil, 0, true)
	if err == nil {
		t.Fatalf("expected error in production, got ledger %T", l)
	}
	if l != nil {
		t.Fatalf("expected nil ledger, got %T", l)
	}
}
