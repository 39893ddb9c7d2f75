// Package tasks tracks follow-up items the agent could not resolve in
// conversation, such as data a caller asked about that no provider had.
package tasks

import (
	"sort"
	"sync"
	"time"
)

// Task is one recorded follow-up item.
type Task struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Category   string    `json:"category"` // e.g. "missing_data"
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is an in-memory task list with TTL expiry. Tasks are working
// notes for operators, not durable records; the archive holds the
// transcript of how each arose.
type Store struct {
	mu    sync.Mutex
	tasks map[string]Task
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates a task store. A non-positive ttl means tasks never
// expire.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		tasks: make(map[string]Task),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add records a task.
func (s *Store) Add(t Task) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// ForIdentity returns the live tasks for one identity, oldest first.
func (s *Store) ForIdentity(identityID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	var out []Task
	for _, t := range s.tasks {
		if t.IdentityID == identityID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All returns every live task, oldest first.
func (s *Store) All() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove deletes a task by ID.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Len returns the number of live tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.tasks)
}

func (s *Store) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, t := range s.tasks {
		if t.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}
