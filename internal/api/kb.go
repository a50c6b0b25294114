package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kalambet/campusdesk/internal/ingest"
	"github.com/kalambet/campusdesk/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// DocumentStore is the knowledge-base document and job store.
type DocumentStore interface {
	ingest.JobStore
	ListDocuments(limit int) ([]storage.Document, error)
	GetJob(id string) (storage.Job, error)
}

type IngestRequest struct {
	Source      string `json:"source"`
	Type        string `json:"type"` // "text", "url" or "file"
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !decodeBody(w, r, maxIngestBodySize, &req) {
		return
	}
	if req.Content == "" && req.URL == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
		return
	}
	if req.Type == "" {
		req.Type = "text"
	}

	var text string
	switch {
	case req.Type == "url" && req.URL != "":
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		body, title, err := ingest.Fetch(ctx, h.HTTPClient, req.URL)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		text = body
		if req.Title == "" {
			req.Title = title
		}
		if req.Title == "" {
			req.Title = req.URL
		}
		if req.Source == "" {
			req.Source = req.URL
		}

	case req.Type == "file" && req.Content != "":
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}
		body, title, err := ingest.Extract(req.ContentType, decoded)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		text = body
		if req.Title == "" {
			req.Title = title
		}

	default:
		text = req.Content
	}

	if strings.TrimSpace(text) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "document has no text")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	docID, jobID, err := ingest.Enqueue(h.Documents, req.Title, req.Source, text)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     docID,
		"job_id": jobID,
		"status": "queued",
	})
}

type documentView struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Source     string     `json:"source"`
	ChunkCount int        `json:"chunk_count"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Documents.ListDocuments(parseIntParam(r, "limit", 20, 100))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
		return
	}
	out := make([]documentView, len(docs))
	for i, d := range docs {
		out[i] = documentView{ID: d.ID, Title: d.Title, Source: d.Source, ChunkCount: d.ChunkCount, CreatedAt: d.CreatedAt}
		if !d.IndexedAt.IsZero() {
			t := d.IndexedAt
			out[i].IndexedAt = &t
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type jobView struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Documents.GetJob(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, jobView{
		ID:        job.ID,
		Status:    job.Status,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		UpdatedAt: job.UpdatedAt,
	})
}
