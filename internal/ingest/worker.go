// Package ingest loads documents into the knowledge base: it stores them,
// queues an index job, and a background worker splits, embeds and upserts
// the passages into the vector store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/retrieval"
	"github.com/kalambet/campusdesk/internal/storage"
)

// JobType is the queue type of knowledge-base index jobs.
const JobType = "kb_index"

// JobStore abstracts the job queue and document operations.
type JobStore interface {
	SaveDocument(doc storage.Document) error
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	MarkDocumentIndexed(id string, chunks int) error
}

type indexPayload struct {
	DocumentID string `json:"document_id"`
}

// Enqueue stores a document and queues it for indexing. It returns the
// document and job IDs.
func Enqueue(store JobStore, title, source, content string) (docID, jobID string, err error) {
	docID = uuid.New().String()
	doc := storage.Document{
		ID:        docID,
		Title:     title,
		Content:   content,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveDocument(doc); err != nil {
		return "", "", fmt.Errorf("saving document: %w", err)
	}

	payload, err := json.Marshal(indexPayload{DocumentID: docID})
	if err != nil {
		return "", "", fmt.Errorf("creating job payload: %w", err)
	}
	jobID = uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: jobID, Type: JobType, PayloadJSON: string(payload)}); err != nil {
		return "", "", fmt.Errorf("enqueuing job: %w", err)
	}
	return docID, jobID, nil
}

// Worker processes kb_index jobs from the SQLite job queue.
type Worker struct {
	store      JobStore
	embedder   retrieval.Embedder
	vectors    retrieval.VectorStore
	chunkChars int
	poll       time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder retrieval.Embedder, vectors retrieval.VectorStore, chunkChars int, pollInterval time.Duration, metrics *observability.Metrics) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:      store,
		embedder:   embedder,
		vectors:    vectors,
		chunkChars: chunkChars,
		poll:       pollInterval,
		metrics:    metrics,
		logger:     slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single kb_index job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		w.metrics.ObserveIngestJob("failed")
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.metrics.ObserveIngestJob("completed")
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	passages := Chunk(doc.Content, w.chunkChars)
	if len(passages) == 0 {
		return fmt.Errorf("document %s has no text", doc.ID)
	}

	vecs, err := retrieval.EmbedBatch(ctx, w.embedder, passages)
	if err != nil {
		return fmt.Errorf("embedding passages: %w", err)
	}

	source := doc.Source
	if source == "" {
		source = doc.Title
	}
	points := make([]retrieval.Point, len(passages))
	for i, text := range passages {
		points[i] = retrieval.Point{
			ID:         uuid.New().String(),
			Vector:     vecs[i],
			Text:       text,
			Source:     source,
			DocumentID: doc.ID,
		}
	}
	if err := w.vectors.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upserting passages: %w", err)
	}

	if err := w.store.MarkDocumentIndexed(doc.ID, len(passages)); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}
	w.logger.Info("document indexed", "document_id", doc.ID, "passages", len(passages))
	return nil
}
