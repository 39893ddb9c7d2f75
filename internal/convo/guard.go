package convo

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// guardCapacity bounds the dedup set. At typical webhook volume this is
// far beyond what a 10-minute TTL window can accumulate.
const guardCapacity = 100_000

// Guard deduplicates redelivered webhooks by delivery ID. Claims live in
// a TTL-bound set whose lifetime must exceed the channel provider's
// maximum redelivery window.
type Guard struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewGuard creates an idempotency guard whose claims expire after ttl.
func NewGuard(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Guard{
		seen: expirable.NewLRU[string, struct{}](guardCapacity, nil, ttl),
	}
}

// Claim records the delivery ID and reports whether this is its first
// claim. A false return means the message was already processed (or is
// being processed) and the caller must short-circuit without side
// effects.
func (g *Guard) Claim(deliveryID string) bool {
	if deliveryID == "" {
		// Unidentifiable deliveries cannot be deduplicated; process them.
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen.Get(deliveryID); ok {
		return false
	}
	g.seen.Add(deliveryID, struct{}{})
	return true
}
