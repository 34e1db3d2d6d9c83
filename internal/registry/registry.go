// Package registry keeps every discovered session under a stable integer id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/srg/mitch/internal/session"
)

// ErrNotFound is returned for ids that were never assigned.
var ErrNotFound = errors.New("session not found")

// Registry is an append-only set of sessions. Ids are assigned in insertion
// order starting at 0 and are never reused. Lookups are lock-free; each
// session serializes its own operations.
//
// size is published only after the session is stored, so Len and List never
// observe id N+1 without id N.
type Registry struct {
	mu       sync.Mutex // serializes Append
	sessions *xsync.MapOf[int, *session.Session]
	size     atomic.Int64
}

func New() *Registry {
	return &Registry{sessions: xsync.NewMapOf[int, *session.Session]()}
}

// Append stores s and returns its id.
func (r *Registry) Append(s *session.Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := int(r.size.Load())
	r.sessions.Store(id, s)
	r.size.Store(int64(id + 1))
	return id
}

// Get returns the session with the given id.
func (r *Registry) Get(id int) (*session.Session, error) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return s, nil
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// Entry pairs a session with its id.
type Entry struct {
	ID      int
	Session *session.Session
}

// List returns all sessions ordered by id.
func (r *Registry) List() []Entry {
	n := r.Len()
	entries := make([]Entry, 0, n)
	for id := 0; id < n; id++ {
		s, _ := r.sessions.Load(id)
		entries = append(entries, Entry{ID: id, Session: s})
	}
	return entries
}

// Summaries lists every session summary with its id filled in.
func (r *Registry) Summaries() []session.Summary {
	entries := r.List()
	out := make([]session.Summary, len(entries))
	for i, e := range entries {
		out[i] = e.Session.Summary()
		out[i].ID = e.ID
	}
	return out
}

// Close closes every session and returns the joined errors.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, e := range r.List() {
		if err := e.Session.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s (id %d): %w", e.Session.Name(), e.ID, err))
		}
	}
	return errors.Join(errs...)
}
