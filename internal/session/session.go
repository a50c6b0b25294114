// Package session keeps server-side stand-ins for visitor pages: each has its
// own conversation memory and its own copy of the request collection.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/pipeline"
	"github.com/kalambet/campusdesk/internal/visitor"
	"github.com/patrickmn/go-cache"
)

var (
	// ErrNotFound is returned for unknown or expired session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned when a session already has a question in flight.
	ErrBusy = errors.New("session is processing another message")
)

const subscriberBuffer = 16

// Session is one visitor page.
type Session struct {
	ID        string
	CreatedAt time.Time

	memory *memory.Memory
	busy   atomic.Bool

	mu       sync.Mutex
	snapshot []visitor.Request
	revision int64
	tickets  []string
	subs     map[chan memory.Turn]struct{}
}

// Append records a turn and pushes it to live subscribers. A subscriber that
// is not keeping up misses the push; History stays authoritative.
func (s *Session) Append(sender memory.Sender, message string) memory.Turn {
	t := s.memory.Append(sender, message)
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- t:
		default:
		}
	}
	return t
}

// Recent returns the turns sent to the models as history.
func (s *Session) Recent() []memory.Turn { return s.memory.Recent() }

// History returns every retained turn.
func (s *Session) History() []memory.Turn { return s.memory.All() }

// Subscribe streams turns appended from now on. Call cancel to stop.
func (s *Session) Subscribe() (<-chan memory.Turn, func()) {
	ch := make(chan memory.Turn, subscriberBuffer)
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[chan memory.Turn]struct{})
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// Ask answers question through p. Only one question per session runs at a
// time; a concurrent call fails with ErrBusy.
func (s *Session) Ask(ctx context.Context, p *pipeline.Pipeline, question string) (pipeline.Outcome, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return pipeline.Outcome{}, ErrBusy
	}
	defer s.busy.Store(false)
	return p.Respond(ctx, s, question), nil
}

// AddTicket records a request submitted from this session.
func (s *Session) AddTicket(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, ticketID)
}

// Tickets returns the requests submitted from this session, oldest first.
func (s *Session) Tickets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tickets...)
}

// Snapshot returns the session's copy of the request collection.
func (s *Session) Snapshot() ([]visitor.Request, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.revision
}

// Advance replaces the snapshot with reqs if rev is newer and returns the
// previous copy. ok is false for stale or repeated revisions.
func (s *Session) Advance(reqs []visitor.Request, rev int64) (prev []visitor.Request, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev <= s.revision {
		return nil, false
	}
	prev = s.snapshot
	s.snapshot, s.revision = reqs, rev
	return prev, true
}

// Manager owns live sessions and expires idle ones.
type Manager struct {
	cache   *cache.Cache
	window  int
	metrics *observability.Metrics
}

// NewManager creates a Manager whose sessions expire after ttl without use.
func NewManager(ttl time.Duration, window int, metrics *observability.Metrics) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	m := &Manager{
		cache:   cache.New(ttl, ttl/2),
		window:  window,
		metrics: metrics,
	}
	m.cache.OnEvicted(func(_ string, v any) {
		if s, ok := v.(*Session); ok {
			s.closeSubscribers()
		}
		m.metrics.SetActiveSessions(m.cache.ItemCount())
	})
	return m
}

// Create starts a session seeded with the given collection snapshot.
func (m *Manager) Create(snapshot []visitor.Request, rev int64) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		memory:    memory.New(m.window),
		snapshot:  snapshot,
		revision:  rev,
	}
	m.cache.SetDefault(s.ID, s)
	m.metrics.SetActiveSessions(m.cache.ItemCount())
	return s
}

// Get returns a live session and extends its lifetime.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	m.cache.SetDefault(id, s)
	return s, nil
}

// Delete ends a session.
func (m *Manager) Delete(id string) {
	m.cache.Delete(id)
}

// Each calls fn for every live session without extending their lifetimes.
func (m *Manager) Each(fn func(*Session)) {
	for _, item := range m.cache.Items() {
		if s, ok := item.Object.(*Session); ok {
			fn(s)
		}
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.cache.ItemCount() }
