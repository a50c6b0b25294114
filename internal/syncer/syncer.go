// Package syncer turns change events on the request collection into status
// notices in every visitor session that holds an outdated copy.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/notify"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/session"
	"github.com/kalambet/campusdesk/internal/visitor"
)

// Syncer consumes change events for one key.
type Syncer struct {
	sessions *session.Manager
	key      string
	mode     visitor.DiffMode
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func New(sessions *session.Manager, key string, mode visitor.DiffMode, metrics *observability.Metrics) *Syncer {
	if mode == "" {
		mode = visitor.DiffPosition
	}
	return &Syncer{
		sessions: sessions,
		key:      key,
		mode:     mode,
		metrics:  metrics,
		logger:   slog.Default(),
	}
}

// Run subscribes to every source and applies events until ctx is cancelled.
// Sources may deliver the same revision more than once.
func (s *Syncer) Run(ctx context.Context, sources ...notify.Subscriber) error {
	chans := make([]<-chan notify.Event, 0, len(sources))
	for _, src := range sources {
		ch, err := src.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribing to changes: %w", err)
		}
		chans = append(chans, ch)
	}
	for ev := range notify.Merge(ctx, chans...) {
		s.Apply(ev)
	}
	return ctx.Err()
}

// Apply diffs ev against every session's snapshot, appends one system turn
// per reported change and advances the snapshot. It returns the number of
// notices appended.
func (s *Syncer) Apply(ev notify.Event) int {
	if ev.Key != s.key {
		return 0
	}
	next, err := visitor.Decode(ev.Value)
	if err != nil {
		s.logger.Warn("ignoring unreadable change event", "key", ev.Key, "revision", ev.Revision, "error", err)
		return 0
	}

	notices := 0
	s.sessions.Each(func(sess *session.Session) {
		prev, ok := sess.Advance(next, ev.Revision)
		if !ok {
			return
		}
		for _, c := range visitor.DiffStatus(prev, next, s.mode) {
			sess.Append(memory.System, c.Notice())
			s.metrics.ObserveSyncNotice()
			notices++
		}
	})
	return notices
}
