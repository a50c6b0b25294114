package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/campusdesk/internal/composer"
	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/pipeline"
	"github.com/kalambet/campusdesk/internal/visitor"
)

type staticRetriever struct{}

func (staticRetriever) Retrieve(context.Context, string) (string, error) { return "ctx", nil }

// blockingFallback answers once release is closed.
type blockingFallback struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFallback) Generate(context.Context, string, float64) (string, error) {
	close(b.started)
	<-b.release
	return "answer", nil
}

type echoFallback struct{}

func (echoFallback) Generate(context.Context, string, float64) (string, error) { return "answer", nil }

func newPipeline(fb pipeline.FallbackModel) *pipeline.Pipeline {
	return pipeline.New(staticRetriever{}, pipeline.NewGenerator(nil, fb, composer.New(""), nil, nil), nil)
}

func TestManager_CreateGetDelete(t *testing.T) {
	m := NewManager(time.Minute, memory.DefaultWindow, nil)
	s := m.Create(nil, 0)

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d", m.Count())
	}
	m.Delete(s.ID)
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: %v", err)
	}
}

func TestSession_Tickets(t *testing.T) {
	m := NewManager(time.Minute, memory.DefaultWindow, nil)
	a, b := m.Create(nil, 0), m.Create(nil, 0)

	a.AddTicket("VST-1")
	a.AddTicket("VST-2")
	got := a.Tickets()
	if len(got) != 2 || got[0] != "VST-1" || got[1] != "VST-2" {
		t.Errorf("Tickets = %v", got)
	}
	got[0] = "mutated"
	if a.Tickets()[0] != "VST-1" {
		t.Error("Tickets exposes internal slice")
	}
	if len(b.Tickets()) != 0 {
		t.Errorf("other session Tickets = %v", b.Tickets())
	}
}

func TestManager_Expiry(t *testing.T) {
	m := NewManager(20*time.Millisecond, memory.DefaultWindow, nil)
	s := m.Create(nil, 0)
	ch, _ := s.Subscribe()

	time.Sleep(50 * time.Millisecond)
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after ttl: %v", err)
	}

	// The janitor closes subscriber channels when it evicts the session.
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected turn")
		}
	case <-time.After(time.Second):
		t.Error("subscriber not closed on eviction")
	}
}

func TestSession_AskRecordsTurns(t *testing.T) {
	m := NewManager(time.Minute, memory.DefaultWindow, nil)
	s := m.Create(nil, 0)
	ch, cancel := s.Subscribe()
	defer cancel()

	out, err := s.Ask(context.Background(), newPipeline(echoFallback{}), "Where is parking?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if out.Text != "answer" {
		t.Errorf("text = %q", out.Text)
	}

	h := s.History()
	if len(h) != 2 || h[0].Sender != memory.User || h[1].Sender != memory.System {
		t.Fatalf("history = %+v", h)
	}
	for _, want := range []string{"Where is parking?", "answer"} {
		if got := (<-ch).Message; got != want {
			t.Errorf("pushed %q, want %q", got, want)
		}
	}
}

func TestSession_AskBusy(t *testing.T) {
	m := NewManager(time.Minute, memory.DefaultWindow, nil)
	s := m.Create(nil, 0)
	fb := &blockingFallback{started: make(chan struct{}), release: make(chan struct{})}
	p := newPipeline(fb)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Ask(context.Background(), p, "first")
	}()
	<-fb.started

	if _, err := s.Ask(context.Background(), p, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Ask err = %v, want ErrBusy", err)
	}
	close(fb.release)
	wg.Wait()

	if _, err := s.Ask(context.Background(), newPipeline(echoFallback{}), "third"); err != nil {
		t.Errorf("Ask after release: %v", err)
	}
}

func TestSession_Advance(t *testing.T) {
	m := NewManager(time.Minute, memory.DefaultWindow, nil)
	first := []visitor.Request{{TicketID: "A", Status: visitor.StatusPending}}
	s := m.Create(first, 3)

	if _, ok := s.Advance(nil, 3); ok {
		t.Error("same revision accepted")
	}
	if _, ok := s.Advance(nil, 2); ok {
		t.Error("older revision accepted")
	}
	next := []visitor.Request{{TicketID: "A", Status: visitor.StatusApproved}}
	prev, ok := s.Advance(next, 4)
	if !ok || len(prev) != 1 || prev[0].Status != visitor.StatusPending {
		t.Errorf("Advance = %+v, %v", prev, ok)
	}
	if snap, rev := s.Snapshot(); rev != 4 || snap[0].Status != visitor.StatusApproved {
		t.Errorf("Snapshot = %+v @ %d", snap, rev)
	}
}

func TestManager_Each(t *testing.T) {
	m := NewManager(time.Minute, memory.DefaultWindow, nil)
	m.Create(nil, 0)
	m.Create(nil, 0)

	n := 0
	m.Each(func(*Session) { n++ })
	if n != 2 {
		t.Errorf("Each visited %d sessions, want 2", n)
	}
}
