// Package notify carries "key changed" events between writers of the shared
// store and the sessions watching it.
//
// Delivery is at-least-once per key and in write order per key. Nothing is
// promised across keys. Consumers must tolerate duplicates; Revision lets
// them drop stale or repeated events.
package notify

import (
	"context"
	"sync"
)

// Event announces that Key now holds Value at Revision.
type Event struct {
	Key      string `json:"key"`
	Revision int64  `json:"revision"`
	Value    []byte `json:"value"`
}

// Publisher announces writes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber streams events until ctx is cancelled, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Bus both publishes and delivers.
type Bus interface {
	Publisher
	Subscriber
}

// Discard drops every event. Used when a Poller alone detects changes.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// MemoryBus fans events out to in-process subscribers. Publish blocks until
// every live subscriber has accepted the event.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
	buf  int
}

type memorySub struct {
	mu     sync.Mutex
	ch     chan Event
	done   <-chan struct{}
	closed bool
}

// NewMemoryBus creates a bus whose subscriber channels hold buf events.
func NewMemoryBus(buf int) *MemoryBus {
	if buf < 0 {
		buf = 0
	}
	return &MemoryBus{subs: make(map[*memorySub]struct{}), buf: buf}
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	s := &memorySub{ch: make(chan Event, b.buf), done: ctx.Done()}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	}()
	return s.ch, nil
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.deliver(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *memorySub) deliver(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Merge forwards events from every input to one channel, closed once all
// inputs are closed.
func Merge(ctx context.Context, inputs ...<-chan Event) <-chan Event {
	out := make(chan Event)
	var wg sync.WaitGroup
	for _, in := range inputs {
		if in == nil {
			continue
		}
		wg.Add(1)
		go func(in <-chan Event) {
			defer wg.Done()
			for ev := range in {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
