package content

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// CachedChecker remembers positive answers of another Checker for a TTL.
// Negative answers are not cached so a newly published item can be commented
// on at once. Entries are dropped early when the content service publishes
// the item id (or "ALL") on the invalidation subject.
type CachedChecker struct {
	next Checker
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	items     map[string]time.Time // id -> expiry
	nextSweep time.Time

	sub *nats.Subscription
}

func NewCachedChecker(next Checker, ttl time.Duration) *CachedChecker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedChecker{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]time.Time),
	}
}

// SubscribeInvalidation listens on subj for item ids to evict.
func (c *CachedChecker) SubscribeInvalidation(nc *nats.Conn, subj string, log *zap.Logger) error {
	if nc == nil || subj == "" {
		return nil
	}
	sub, err := nc.Subscribe(subj, func(m *nats.Msg) {
		c.Invalidate(string(m.Data))
	})
	if err != nil {
		return err
	}
	c.sub = sub
	log.Info("content cache invalidation subscribed", zap.String("subject", subj))
	return nil
}

// Close stops the invalidation subscription.
func (c *CachedChecker) Close() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// Invalidate evicts id, or everything when id is empty or "ALL".
func (c *CachedChecker) Invalidate(id string) {
	id = strings.TrimSpace(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" || strings.EqualFold(id, "ALL") {
		c.items = make(map[string]time.Time)
		return
	}
	delete(c.items, id)
}

func (c *CachedChecker) Exists(ctx context.Context, id string) (bool, error) {
	now := c.now()
	c.mu.RLock()
	exp, ok := c.items[id]
	c.mu.RUnlock()
	if ok && now.Before(exp) {
		return true, nil
	}

	exists, err := c.next.Exists(ctx, id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if exists {
		c.items[id] = now.Add(c.ttl)
	} else {
		delete(c.items, id)
	}
	if !now.Before(c.nextSweep) {
		c.sweepLocked(now)
	}
	c.mu.Unlock()
	return exists, nil
}

// sweepLocked drops expired entries. It runs at most once per TTL.
func (c *CachedChecker) sweepLocked(now time.Time) {
	for id, exp := range c.items {
		if !now.Before(exp) {
			delete(c.items, id)
		}
	}
	c.nextSweep = now.Add(c.ttl)
}
