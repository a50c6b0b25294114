package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/campusdesk/internal/retrieval"
	"github.com/kalambet/campusdesk/internal/storage"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func fixedEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}}
}

type mockVectorStore struct {
	mu       sync.Mutex
	upserted []retrieval.Point
	upsertFn func(ctx context.Context, points []retrieval.Point) error
}

func (m *mockVectorStore) Search(context.Context, []float32, int) ([]retrieval.Passage, error) {
	return nil, nil
}

func (m *mockVectorStore) Upsert(ctx context.Context, points []retrieval.Point) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, points)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, points...)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestDoc(t *testing.T, store *storage.Store, content string) (docID, jobID string) {
	t.Helper()
	docID, jobID, err := Enqueue(store, "Campus guide", "guide.pdf", content)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return docID, jobID
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) storage.Job {
	t.Helper()
	j, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	docID, jobID := enqueueTestDoc(t, store, "The library opens at 8 AM.\n\nParking is at Gate 2.")

	vectors := &mockVectorStore{}
	w := NewWorker(store, fixedEmbedder(), vectors, 30, 0, nil)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if len(vectors.upserted) != 2 {
		t.Fatalf("upserted %d points, want 2", len(vectors.upserted))
	}
	p := vectors.upserted[0]
	if p.DocumentID != docID || p.Source != "guide.pdf" || p.Text != "The library opens at 8 AM." {
		t.Errorf("point = %+v", p)
	}

	doc, err := store.GetDocument(docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ChunkCount != 2 || doc.IndexedAt.IsZero() {
		t.Errorf("doc chunk_count=%d indexed_at=%v", doc.ChunkCount, doc.IndexedAt)
	}
	if j := jobStatus(t, store, jobID); j.Status != "completed" {
		t.Errorf("job status = %q", j.Status)
	}
}

func TestWorker_NoJob(t *testing.T) {
	w := NewWorker(openTestStore(t), fixedEmbedder(), &mockVectorStore{}, 0, 0, nil)
	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	_, jobID := enqueueTestDoc(t, store, "retry content")

	var calls atomic.Int32
	w := NewWorker(store, &mockEmbedder{
		embedFn: func(_ context.Context, _ string) ([]float32, error) {
			n := calls.Add(1)
			if n <= 2 {
				return nil, fmt.Errorf("transient error %d", n)
			}
			return []float32{0.1, 0.2, 0.3}, nil
		},
	}, &mockVectorStore{}, 0, 0, nil)

	ctx := context.Background()
	for attempt := 1; attempt <= 2; attempt++ {
		if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", attempt, didWork, err)
		}
		j := jobStatus(t, store, jobID)
		if j.Status != "pending" || j.Attempts != attempt {
			t.Errorf("after fail %d: status=%q attempts=%d", attempt, j.Status, j.Attempts)
		}
		if !strings.Contains(j.LastError, "transient error") {
			t.Errorf("last_error = %q", j.LastError)
		}
		resetRunAfter(t, store, jobID)
	}

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if j := jobStatus(t, store, jobID); j.Status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", j.Status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	_, jobID := enqueueTestDoc(t, store, "max retry content")

	w := NewWorker(store, fixedEmbedder(), &mockVectorStore{
		upsertFn: func(context.Context, []retrieval.Point) error {
			return fmt.Errorf("qdrant unavailable")
		},
	}, 0, 0, nil)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, jobID)
		}
	}

	if j := jobStatus(t, store, jobID); j.Status != "failed" {
		t.Errorf("final status = %q, want failed", j.Status)
	}
}

func TestWorker_EmptyDocumentFails(t *testing.T) {
	store := openTestStore(t)
	_, jobID := enqueueTestDoc(t, store, "   \n\n  ")

	vectors := &mockVectorStore{}
	w := NewWorker(store, fixedEmbedder(), vectors, 0, 0, nil)
	w.RunOnce(context.Background())

	if len(vectors.upserted) != 0 {
		t.Errorf("upserted %d points for empty doc", len(vectors.upserted))
	}
	if j := jobStatus(t, store, jobID); j.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", j.Attempts)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	_, jobID := enqueueTestDoc(t, store, "background content")

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(store, fixedEmbedder(), &mockVectorStore{}, 0, 10*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for jobStatus(t, store, jobID).Status != "completed" {
		select {
		case <-deadline:
			t.Fatal("job not processed by Run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
