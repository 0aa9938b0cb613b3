package messaging

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// RedeliveryTracker counts failed handler attempts per message. Classic
// queues carry no delivery count, so the count lives in the consuming
// process and is forgotten after ttl.
type RedeliveryTracker struct {
	limit int
	mu    sync.Mutex
	cache *ttlcache.Cache[string, int]
}

// NewRedeliveryTracker returns nil when limit is not positive, which
// disables dead-lettering.
func NewRedeliveryTracker(limit int, ttl time.Duration) *RedeliveryTracker {
	if limit <= 0 {
		return nil
	}
	cache := ttlcache.New[string, int](
		ttlcache.WithTTL[string, int](ttl),
		ttlcache.WithDisableTouchOnHit[string, int](),
	)
	go cache.Start()

	return &RedeliveryTracker{limit: limit, cache: cache}
}

// Fail records a failed attempt and returns the failure count so far.
func (t *RedeliveryTracker) Fail(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 1
	if item := t.cache.Get(key); item != nil {
		n = item.Value() + 1
	}
	t.cache.Set(key, n, ttlcache.DefaultTTL)
	return n
}

// Exceeded reports whether failures reached the dead-letter limit.
func (t *RedeliveryTracker) Exceeded(failures int) bool {
	return failures >= t.limit
}

func (t *RedeliveryTracker) Forget(key string) {
	t.cache.Delete(key)
}

func (t *RedeliveryTracker) Close() {
	t.cache.Stop()
}

// redeliveryKey identifies a message across redeliveries. Messages published
// without an id fall back to a digest of their body.
func redeliveryKey(msg Message) string {
	if msg.ID != "" {
		return msg.Topic + "/" + msg.ID
	}
	sum := sha256.Sum256(msg.Body)
	return msg.Topic + "/sha256:" + hex.EncodeToString(sum[:])
}
