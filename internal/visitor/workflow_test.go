package visitor

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/campusdesk/internal/notify"
	"github.com/kalambet/campusdesk/internal/storage"
)

// countingKV wraps a KV and counts calls.
type countingKV struct {
	storage.KV
	mu   sync.Mutex
	gets int
	puts int
}

func (c *countingKV) Get(ctx context.Context, key string) (storage.Entry, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.KV.Get(ctx, key)
}

func (c *countingKV) Put(ctx context.Context, key string, value []byte) (int64, error) {
	c.mu.Lock()
	c.puts++
	c.mu.Unlock()
	return c.KV.Put(ctx, key, value)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newTestWorkflow(t *testing.T) (*Workflow, *countingKV, *recordingPublisher) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	kv := &countingKV{KV: s}
	pub := &recordingPublisher{}
	return NewWorkflow(kv, "", pub, nil), kv, pub
}

func validForm() Form {
	return Form{
		Name:    "Dr. Sarah Johnson",
		Phone:   "+961 3 123 456",
		Purpose: "academic-meeting",
		Person:  "Dean of Engineering",
	}
}

var ticketPattern = regexp.MustCompile(`^VST-\d{9}$`)

func TestSubmit_Valid(t *testing.T) {
	w, _, pub := newTestWorkflow(t)
	ctx := context.Background()

	req, err := w.Submit(ctx, validForm())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !ticketPattern.MatchString(req.TicketID) {
		t.Errorf("ticket = %q", req.TicketID)
	}
	if req.Status != StatusPending {
		t.Errorf("status = %s", req.Status)
	}
	if req.IDNumber != IDNotProvided {
		t.Errorf("idNumber = %q, want %q", req.IDNumber, IDNotProvided)
	}

	all, _ := w.List(ctx)
	if len(all) != 1 || all[0].TicketID != req.TicketID {
		t.Fatalf("stored = %+v", all)
	}
	if len(pub.events) != 1 || pub.events[0].Key != DefaultKey || pub.events[0].Revision != 1 {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestSubmit_MissingFields(t *testing.T) {
	w, kv, pub := newTestWorkflow(t)

	_, err := w.Submit(context.Background(), Form{Name: "  ", Phone: "", Purpose: "tour"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if got := ve.Error(); got != "Please fill in the required fields: name, phone" {
		t.Errorf("message = %q", got)
	}
	if kv.gets+kv.puts != 0 || len(pub.events) != 0 {
		t.Errorf("store touched: gets=%d puts=%d events=%d", kv.gets, kv.puts, len(pub.events))
	}
}

func TestSubmit_InvalidPhone(t *testing.T) {
	w, kv, _ := newTestWorkflow(t)
	f := validForm()
	f.Phone = "0123"

	_, err := w.Submit(context.Background(), f)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v", err)
	}
	if ve.Error() != "Please enter a valid phone number." {
		t.Errorf("message = %q", ve.Error())
	}
	if len(ve.Fields()) != 1 || ve.Fields()[0] != "phone" {
		t.Errorf("fields = %v", ve.Fields())
	}
	if kv.puts != 0 {
		t.Errorf("puts = %d, want 0", kv.puts)
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"+961 3 123 456", true},
		{"(03) 123-456", false},
		{"3-123-456", true},
		{"+1 (555) 010-9999", true},
		{"0123456", false},
		{"+", false},
		{"12345678901234567", false},
		{"phone", false},
	}
	for _, tt := range tests {
		if got := ValidPhone(tt.in); got != tt.want {
			t.Errorf("ValidPhone(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	w, kv, pub := newTestWorkflow(t)
	ctx := context.Background()
	req, _ := w.Submit(ctx, validForm())

	ok, err := w.Decide(ctx, req.TicketID, StatusApproved)
	if err != nil || !ok {
		t.Fatalf("Decide = %v, %v", ok, err)
	}
	got, _, _ := w.Get(ctx, req.TicketID)
	if got.Status != StatusApproved {
		t.Errorf("status = %s", got.Status)
	}
	if len(pub.events) != 2 {
		t.Errorf("events = %d, want 2", len(pub.events))
	}

	puts := kv.puts
	ok, err = w.Decide(ctx, req.TicketID, StatusDenied)
	if err != nil || ok {
		t.Errorf("second decision = %v, %v; want false", ok, err)
	}
	ok, _ = w.Decide(ctx, "VST-000000000", StatusApproved)
	if ok {
		t.Error("unknown ticket decided")
	}
	if kv.puts != puts {
		t.Errorf("rejected decisions wrote %d times", kv.puts-puts)
	}

	if _, err := w.Decide(ctx, req.TicketID, StatusPending); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestLatestPendingStatistics(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	if _, ok, _ := w.Latest(ctx); ok {
		t.Fatal("Latest on empty store returned a request")
	}

	a, _ := w.Submit(ctx, validForm())
	b, _ := w.Submit(ctx, validForm())
	c, _ := w.Submit(ctx, validForm())
	w.Decide(ctx, a.TicketID, StatusApproved)
	w.Decide(ctx, b.TicketID, StatusDenied)

	latest, ok, _ := w.Latest(ctx)
	if !ok || latest.TicketID != c.TicketID {
		t.Errorf("Latest = %s, want %s", latest.TicketID, c.TicketID)
	}
	pending, _ := w.Pending(ctx)
	if len(pending) != 1 || pending[0].TicketID != c.TicketID {
		t.Errorf("Pending = %+v", pending)
	}
	stats, _ := w.Statistics(ctx)
	want := Stats{Total: 3, Pending: 1, Approved: 1, Denied: 1, Today: 3}
	if stats != want {
		t.Errorf("Statistics = %+v, want %+v", stats, want)
	}
}

func TestLatestOf(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	a, _ := w.Submit(ctx, validForm())
	b, _ := w.Submit(ctx, validForm())
	w.Submit(ctx, validForm())

	if _, ok, _ := w.LatestOf(ctx, nil); ok {
		t.Error("LatestOf with no tickets returned a request")
	}
	if _, ok, _ := w.LatestOf(ctx, []string{"VST-000000000"}); ok {
		t.Error("LatestOf with unknown ticket returned a request")
	}
	got, ok, err := w.LatestOf(ctx, []string{b.TicketID, a.TicketID})
	if err != nil || !ok {
		t.Fatalf("LatestOf: ok=%v err=%v", ok, err)
	}
	if got.TicketID != b.TicketID {
		t.Errorf("LatestOf = %s, want %s", got.TicketID, b.TicketID)
	}
}

func TestSnapshot_CorruptValueIsEmpty(t *testing.T) {
	w, kv, _ := newTestWorkflow(t)
	ctx := context.Background()
	kv.KV.Put(ctx, DefaultKey, []byte("{not json"))

	reqs, rev, err := w.Snapshot(ctx)
	if err != nil || len(reqs) != 0 || rev != 1 {
		t.Errorf("Snapshot = %v, %d, %v", reqs, rev, err)
	}
	if _, err := w.Submit(ctx, validForm()); err != nil {
		t.Errorf("Submit over corrupt value: %v", err)
	}
}

func TestSubmit_ConcurrentWritesAllKept(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Submit(ctx, validForm()); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := w.List(ctx)
	if len(all) != 20 {
		t.Errorf("stored %d requests, want 20", len(all))
	}
}

func TestStaffSessions(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	ss := NewStaffSessions(s, "")
	if _, ok, _ := ss.Current(ctx); ok {
		t.Fatal("Current before Begin")
	}
	begun, err := ss.Begin(ctx, "officer", "security")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cur, ok, err := ss.Current(ctx)
	if err != nil || !ok || cur.Token != begun.Token {
		t.Errorf("Current = %+v, %v, %v", cur, ok, err)
	}

	ss.now = func() time.Time { return begun.Timestamp.Add(StaffSessionTTL + time.Second) }
	if _, ok, _ := ss.Current(ctx); ok {
		t.Error("expired marker reported valid")
	}
}
