package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/campusdesk/internal/storage"
)

// Poller watches key revisions in a KV store and emits an Event whenever a
// revision moves. The first poll only records a baseline.
type Poller struct {
	kv       storage.KV
	keys     []string
	interval time.Duration
	logger   *slog.Logger
	last     map[string]int64
}

// NewPoller creates a Poller. If interval is <= 0, it defaults to 2s.
func NewPoller(kv storage.KV, interval time.Duration, keys ...string) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		kv:       kv,
		keys:     keys,
		interval: interval,
		logger:   slog.Default(),
		last:     make(map[string]int64),
	}
}

// Subscribe starts polling. A Poller supports one subscription.
func (p *Poller) Subscribe(ctx context.Context) (<-chan Event, error) {
	if _, err := p.PollOnce(ctx, nil); err != nil {
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		p.Run(ctx, out)
	}()
	return out, nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}

		if _, err := p.PollOnce(ctx, out); err != nil && ctx.Err() == nil {
			p.logger.Error("revision poll failed", "error", err)
		}
	}
}

// PollOnce checks every key once and sends an event for each changed one.
// With a nil out it only updates the baseline. Returns the number of events
// sent.
func (p *Poller) PollOnce(ctx context.Context, out chan<- Event) (int, error) {
	sent := 0
	var errs []error
	for _, key := range p.keys {
		rev, err := p.kv.Revision(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prev, seen := p.last[key]
		if seen && rev == prev {
			continue
		}
		if !seen || out == nil {
			p.last[key] = rev
			continue
		}

		entry, err := p.kv.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		select {
		case out <- Event{Key: key, Revision: entry.Revision, Value: entry.Value}:
			p.last[key] = entry.Revision
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	return sent, errors.Join(errs...)
}
