package idempotency

import (
	"context"
	"sync"
	"time"
)

// memoryLedger is a development-only ledger: entries are lost on restart and
// are not shared between instances. Expired entries are swept on Record.
type memoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	Entry
	at time.Time
}

func newMemoryLedger(ttl time.Duration) *memoryLedger {
	return &memoryLedger{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (l *memoryLedger) expired(e memoryEntry, now time.Time) bool {
	return l.ttl > 0 && now.Sub(e.at) >= l.ttl
}

func (l *memoryLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[eventID]
	return ok && !l.expired(e, l.now()), nil
}

func (l *memoryLedger) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, old := range l.entries {
		if l.expired(old, now) {
			delete(l.entries, id)
		}
	}
	if _, ok := l.entries[e.EventID]; !ok {
		l.entries[e.EventID] = memoryEntry{Entry: e, at: now}
	}
	return nil
}

func (l *memoryLedger) Close() error { return nil }
