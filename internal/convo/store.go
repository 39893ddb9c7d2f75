// Package convo provides short-lived conversation memory and webhook
// deduplication. All state is in-memory and evaporates on restart;
// conversations survive only as long as their TTL.
package convo

import (
	"sync"
	"time"
)

// Role values for a Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message exchanged in either direction. Immutable once
// appended.
type Turn struct {
	Role      string            `json:"role"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UserContext is the identity-resolution result attached to a
// conversation. Set once per conversation lifetime; read-only afterward.
type UserContext struct {
	IdentityID     string    `json:"identity_id"`
	OrganizationID string    `json:"organization_id"`
	DisplayName    string    `json:"display_name"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// record owns the ordered turn sequence and context for one identity.
type record struct {
	turns     []Turn
	userCtx   *UserContext
	expiresAt time.Time
}

// Store is a TTL cache of conversation records keyed by identity.
// Every read or write renews the record's TTL; expired records are
// destroyed by a background janitor or lazily on access.
type Store struct {
	mu       sync.Mutex
	records  map[string]*record
	ttl      time.Duration
	maxTurns int
}

// NewStore creates a conversation store. maxTurns caps retained turns
// per identity (oldest evicted first); ttl is the idle lifetime.
func NewStore(maxTurns int, ttl time.Duration) *Store {
	if maxTurns <= 0 {
		maxTurns = 40
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Store{
		records:  make(map[string]*record),
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

// StartJanitor evicts expired records every interval until done is
// closed. Lazy expiry on access makes this optional; the janitor just
// keeps idle memory bounded.
func (s *Store) StartJanitor(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.evictExpired(time.Now())
			}
		}
	}()
}

func (s *Store) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, id)
		}
	}
}

// live returns the record for identity, creating it if requested.
// Expired records are destroyed on sight. Callers must hold s.mu.
func (s *Store) live(identity string, create bool) *record {
	rec, ok := s.records[identity]
	if ok && time.Now().After(rec.expiresAt) {
		delete(s.records, identity)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		rec = &record{}
		s.records[identity] = rec
	}
	rec.expiresAt = time.Now().Add(s.ttl)
	return rec
}

// Append adds a turn to the identity's conversation, creating the
// record if needed, and trims to the retention cap by dropping the
// oldest turns.
func (s *Store) Append(identity string, turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(identity, true)
	rec.turns = append(rec.turns, turn)
	if len(rec.turns) > s.maxTurns {
		rec.turns = rec.turns[len(rec.turns)-s.maxTurns:]
	}
}

// RecentTurns returns up to n turns for the identity, oldest first and
// most recent last. A miss returns an empty slice, never an error.
func (s *Store) RecentTurns(identity string, n int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(identity, false)
	if rec == nil || n <= 0 {
		return []Turn{}
	}

	turns := rec.turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Context returns the identity's resolved user context, or nil when the
// conversation is new or unresolved.
func (s *Store) Context(identity string) *UserContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(identity, false)
	if rec == nil || rec.userCtx == nil {
		return nil
	}
	ctx := *rec.userCtx
	return &ctx
}

// SetContext attaches a resolved user context to the conversation,
// creating the record if needed.
func (s *Store) SetContext(identity string, ctx UserContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(identity, true)
	rec.userCtx = &ctx
}

// Clear destroys the identity's conversation record.
func (s *Store) Clear(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identity)
}

// ActiveConversations returns the count of live (unexpired) records.
func (s *Store) ActiveConversations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, rec := range s.records {
		if !now.After(rec.expiresAt) {
			count++
		}
	}
	return count
}
