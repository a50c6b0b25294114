package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := NewMetrics("campusdesk")

	m.ObserveTier("primary", "status")
	m.ObserveTier("fallback", "ok")
	m.ObserveAnswer("FALLBACK_OK", 1500*time.Millisecond)
	m.ObserveVisitorEvent("submitted")
	m.ObserveSyncNotice()
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.AnswerTiers.WithLabelValues("primary", "status")); got != 1 {
		t.Errorf("primary/status = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Errorf("active sessions = %v, want 3", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`campusdesk_answer_tier_results_total{reason="ok",tier="fallback"} 1`,
		`campusdesk_visitor_request_events_total{event="submitted"} 1`,
		`campusdesk_sync_notices_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTier("primary", "ok")
	m.ObserveAnswer("PRIMARY_OK", time.Second)
	m.ObserveRetrievalFailure("embed")
	m.ObserveVisitorEvent("approved")
	m.ObserveSyncNotice()
	m.ObserveWSMessage("out", "turn")
	m.ObserveIngestJob("completed")
	m.SetActiveSessions(1)
}

func TestNewMetrics_Independent(t *testing.T) {
	a := NewMetrics("campusdesk")
	b := NewMetrics("campusdesk")
	a.ObserveSyncNotice()
	if got := testutil.ToFloat64(b.SyncNotices); got != 0 {
		t.Errorf("second registry saw %v notices, want 0", got)
	}
}
