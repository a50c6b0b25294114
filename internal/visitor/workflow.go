package visitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kalambet/campusdesk/internal/notify"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/storage"
)

// DefaultKey is the durable key holding the request collection.
const DefaultKey = "uob-visitor-requests"

// ErrInvalidStatus is returned when a decision is neither approved nor denied.
var ErrInvalidStatus = errors.New("status must be approved or denied")

// Workflow owns the request collection under one key. Every write replaces
// the whole collection and is announced on the publisher. Writes from one
// process are serialized; across processes the last writer wins.
type Workflow struct {
	kv        storage.KV
	key       string
	publisher notify.Publisher
	tickets   *TicketGenerator
	validate  *validator.Validate
	metrics   *observability.Metrics
	now       func() time.Time

	mu sync.Mutex
}

// NewWorkflow creates a Workflow over kv. An empty key selects DefaultKey; a
// nil publisher discards change events.
func NewWorkflow(kv storage.KV, key string, publisher notify.Publisher, metrics *observability.Metrics) *Workflow {
	if key == "" {
		key = DefaultKey
	}
	if publisher == nil {
		publisher = notify.Discard
	}
	return &Workflow{
		kv:        kv,
		key:       key,
		publisher: publisher,
		tickets:   NewTicketGenerator(),
		validate:  newValidator(),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Key returns the durable key the workflow writes.
func (w *Workflow) Key() string { return w.key }

// Snapshot returns the current collection and its revision. A missing key is
// an empty collection at revision 0; an undecodable value is logged and
// treated as empty.
func (w *Workflow) Snapshot(ctx context.Context) ([]Request, int64, error) {
	entry, err := w.kv.Get(ctx, w.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading visitor requests: %w", err)
	}
	reqs, err := Decode(entry.Value)
	if err != nil {
		slog.Warn("discarding unreadable visitor requests", "key", w.key, "error", err)
		return nil, entry.Revision, nil
	}
	return reqs, entry.Revision, nil
}

func (w *Workflow) save(ctx context.Context, reqs []Request) error {
	value, err := Encode(reqs)
	if err != nil {
		return fmt.Errorf("encoding visitor requests: %w", err)
	}
	rev, err := w.kv.Put(ctx, w.key, value)
	if err != nil {
		return fmt.Errorf("saving visitor requests: %w", err)
	}
	// The write is durable; pollers pick it up even if this publish fails.
	if err := w.publisher.Publish(ctx, notify.Event{Key: w.key, Revision: rev, Value: value}); err != nil {
		slog.Warn("publishing visitor request change", "revision", rev, "error", err)
	}
	return nil
}

// Submit validates f, issues a ticket and appends a pending request. A
// rejected form returns *ValidationError and leaves the store untouched.
func (w *Workflow) Submit(ctx context.Context, f Form) (Request, error) {
	f = f.normalize()
	if err := validateForm(w.validate, f); err != nil {
		w.metrics.ObserveVisitorEvent("rejected")
		return Request{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	reqs, _, err := w.Snapshot(ctx)
	if err != nil {
		return Request{}, err
	}
	existing := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		existing[r.TicketID] = struct{}{}
	}

	req := Request{
		TicketID: w.tickets.Next(func(id string) bool {
			_, ok := existing[id]
			return ok
		}),
		Name:      f.Name,
		IDNumber:  f.IDNumber,
		Phone:     f.Phone,
		Purpose:   f.Purpose,
		Person:    f.Person,
		Building:  f.Building,
		Duration:  f.Duration,
		Timestamp: w.now().UTC(),
		Status:    StatusPending,
	}
	if err := w.save(ctx, append(reqs, req)); err != nil {
		return Request{}, err
	}
	w.metrics.ObserveVisitorEvent("submitted")
	slog.Info("visitor request submitted", "ticket", req.TicketID)
	return req, nil
}

// Decide moves a pending request to approved or denied. It returns false,
// without writing, when the ticket is unknown or already decided.
func (w *Workflow) Decide(ctx context.Context, ticketID string, status Status) (bool, error) {
	if status != StatusApproved && status != StatusDenied {
		return false, ErrInvalidStatus
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	reqs, _, err := w.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, r := range reqs {
		if r.TicketID == ticketID {
			idx = i
			break
		}
	}
	if idx < 0 || reqs[idx].Status != StatusPending {
		return false, nil
	}

	reqs[idx].Status = status
	if err := w.save(ctx, reqs); err != nil {
		return false, err
	}
	w.metrics.ObserveVisitorEvent(string(status))
	slog.Info("visitor request decided", "ticket", ticketID, "status", status)
	return true, nil
}

// List returns every request in submission order.
func (w *Workflow) List(ctx context.Context) ([]Request, error) {
	reqs, _, err := w.Snapshot(ctx)
	return reqs, err
}

// Pending returns the requests still awaiting a decision.
func (w *Workflow) Pending(ctx context.Context) ([]Request, error) {
	reqs, err := w.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Request
	for _, r := range reqs {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// Latest returns the most recently submitted request.
func (w *Workflow) Latest(ctx context.Context) (Request, bool, error) {
	reqs, err := w.List(ctx)
	if err != nil || len(reqs) == 0 {
		return Request{}, false, err
	}
	return reqs[len(reqs)-1], true, nil
}

// LatestOf returns the most recently submitted request among tickets.
func (w *Workflow) LatestOf(ctx context.Context, tickets []string) (Request, bool, error) {
	if len(tickets) == 0 {
		return Request{}, false, nil
	}
	reqs, err := w.List(ctx)
	if err != nil {
		return Request{}, false, err
	}
	own := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		own[t] = struct{}{}
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		if _, ok := own[reqs[i].TicketID]; ok {
			return reqs[i], true, nil
		}
	}
	return Request{}, false, nil
}

// Get looks a request up by ticket.
func (w *Workflow) Get(ctx context.Context, ticketID string) (Request, bool, error) {
	reqs, err := w.List(ctx)
	if err != nil {
		return Request{}, false, err
	}
	for _, r := range reqs {
		if r.TicketID == ticketID {
			return r, true, nil
		}
	}
	return Request{}, false, nil
}

// Statistics summarizes the collection as of now.
func (w *Workflow) Statistics(ctx context.Context) (Stats, error) {
	reqs, err := w.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(reqs, w.now()), nil
}
