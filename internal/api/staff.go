package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/campusdesk/internal/visitor"
)

type staffLoginRequest struct {
	Username string `json:"username"`
}

func (h *handler) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	var req staffLoginRequest
	if !decodeBody(w, r, maxRequestBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "username is required")
		return
	}
	sess, err := h.Staff.Begin(r.Context(), strings.TrimSpace(req.Username), "security")
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "starting staff session: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handler) handleStaffSession(w http.ResponseWriter, r *http.Request) {
	sess, ok, err := h.Staff.Current(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading staff session: %v", err)
		return
	}
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "no active staff session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Workflow.List(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "listing visitor requests: %v", err)
		return
	}

	filter := visitor.Status(r.URL.Query().Get("status"))
	out := []requestView{}
	for _, req := range visitor.ForReview(reqs) {
		if filter != "" && req.Status != filter {
			continue
		}
		out = append(out, h.view(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleVisitorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Workflow.Statistics(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "computing statistics: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) handleDecide(status visitor.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticket := chi.URLParam(r, "ticket")
		ok, err := h.Workflow.Decide(r.Context(), ticket, status)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deciding %s: %v", ticket, err)
			return
		}
		if !ok {
			_, exists, err := h.Workflow.Get(r.Context(), ticket)
			switch {
			case err != nil:
				httpError(w, http.StatusInternalServerError, "api_error", "loading %s: %v", ticket, err)
			case exists:
				httpError(w, http.StatusConflict, "conflict", "visitor request %s has already been decided", ticket)
			default:
				httpError(w, http.StatusNotFound, "not_found", "visitor request %s not found", ticket)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ticketId": ticket,
			"status":   status,
			"message":  visitor.StatusNotice(ticket, status),
		})
	}
}
