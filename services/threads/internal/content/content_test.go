package content

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingChecker struct {
	calls int
	set   *StaticSet
	err   error
}

func (c *countingChecker) Exists(ctx context.Context, id string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.set.Exists(ctx, id)
}

func TestStaticSet(t *testing.T) {
	s := NewStaticSet("item-1")
	ctx := context.Background()
	if ok, _ := s.Exists(ctx, "item-1"); !ok {
		t.Fatal("expected item-1 to exist")
	}
	s.Remove("item-1")
	s.Add("item-2")
	if ok, _ := s.Exists(ctx, "item-1"); ok {
		t.Fatal("expected item-1 removed")
	}
	if ok, _ := s.Exists(ctx, "item-2"); !ok {
		t.Fatal("expected item-2 to exist")
	}
}

func TestAllowAll(t *testing.T) {
	if ok, _ := (AllowAll{}).Exists(context.Background(), ""); ok {
		t.Fatal("empty id must not exist")
	}
	if ok, _ := (AllowAll{}).Exists(context.Background(), "x"); !ok {
		t.Fatal("expected any id to exist")
	}
}

func TestCachedChecker_CachesPositive(t *testing.T) {
	next := &countingChecker{set: NewStaticSet("item-1")}
	c := NewCachedChecker(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Exists(ctx, "item-1")
		if err != nil || !ok {
			t.Fatalf("call %d: got %v, %v", i, ok, err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", next.calls)
	}
}

func TestCachedChecker_DoesNotCacheNegative(t *testing.T) {
	set := NewStaticSet()
	next := &countingChecker{set: set}
	c := NewCachedChecker(next, time.Minute)
	ctx := context.Background()

	if ok, _ := c.Exists(ctx, "item-1"); ok {
		t.Fatal("expected missing item")
	}
	set.Add("item-1")
	if ok, _ := c.Exists(ctx, "item-1"); !ok {
		t.Fatal("expected newly added item to be seen")
	}
}

func TestCachedChecker_ExpiresAndInvalidates(t *testing.T) {
	next := &countingChecker{set: NewStaticSet("item-1", "item-2")}
	c := NewCachedChecker(next, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = c.Exists(ctx, "item-1")
	now = now.Add(2 * time.Minute)
	_, _ = c.Exists(ctx, "item-1")
	if next.calls != 2 {
		t.Fatalf("expected refetch after expiry, got %d calls", next.calls)
	}

	c.Invalidate("item-1")
	_, _ = c.Exists(ctx, "item-1")
	if next.calls != 3 {
		t.Fatalf("expected refetch after invalidation, got %d calls", next.calls)
	}

	_, _ = c.Exists(ctx, "item-2")
	c.Invalidate("ALL")
	_, _ = c.Exists(ctx, "item-2")
	if next.calls != 5 {
		t.Fatalf("expected refetch after ALL, got %d calls", next.calls)
	}
}

func TestCachedChecker_PropagatesError(t *testing.T) {
	boom := errors.New("db down")
	c := NewCachedChecker(&countingChecker{set: NewStaticSet(), err: boom}, time.Minute)
	if _, err := c.Exists(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestCachedChecker_SweepsExpiredEntries(t *testing.T) {
	next := &countingChecker{set: NewStaticSet("a", "b", "c", "d")}
	c := NewCachedChecker(next, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _ = c.Exists(ctx, id)
	}
	if len(c.items) != 3 {
		t.Fatalf("expected 3 cached items, got %d", len(c.items))
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Exists(ctx, "d")
	if len(c.items) != 1 {
		t.Fatalf("expected expired items to be swept, %d left", len(c.items))
	}
	if _, ok := c.items["d"]; !ok {
		t.Fatal("expected the fresh item to stay cached")
	}
}
