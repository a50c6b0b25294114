package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/pipeline"
	"github.com/kalambet/campusdesk/internal/session"
	"github.com/kalambet/campusdesk/internal/visitor"
)

// NoRequestsMessage answers a status query from a visitor with no requests.
const NoRequestsMessage = "You don't have any visitor requests yet. Would you like to submit one?"

type tierView struct {
	Tier       string `json:"tier"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
}

type answerView struct {
	Reply      string     `json:"reply"`
	State      string     `json:"state"`
	Trace      []string   `json:"trace"`
	Tiers      []tierView `json:"tiers"`
	DurationMs int64      `json:"duration_ms"`
}

func newAnswerView(out pipeline.Outcome) answerView {
	v := answerView{
		Reply:      out.Text,
		State:      string(out.Final),
		DurationMs: out.Duration.Milliseconds(),
		Tiers:      make([]tierView, len(out.Tiers)),
	}
	for _, s := range out.Trace {
		v.Trace = append(v.Trace, string(s))
	}
	for i, t := range out.Tiers {
		v.Tiers[i] = tierView{Tier: t.Tier, Reason: string(t.Reason), DurationMs: t.Duration.Milliseconds()}
	}
	return v
}

type requestView struct {
	visitor.Request
	TimeAgo string `json:"timeAgo"`
}

func (h *handler) view(r visitor.Request) requestView {
	return requestView{Request: r, TimeAgo: visitor.TimeAgo(r.Timestamp, h.now())}
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.Sessions.Get(chi.URLParam(r, "id"))
	if errors.Is(err, session.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
		return nil, false
	}
	return sess, true
}

func (h *handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	snap, rev, err := h.Workflow.Snapshot(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading visitor requests: %v", err)
		return
	}
	sess := h.Sessions.Create(snap, rev)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	turns := sess.History()
	if turns == nil {
		turns = []memory.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

type messageRequest struct {
	Message string `json:"message"`
}

func (h *handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, maxRequestBodySize, &req) {
		return
	}
	question := strings.TrimSpace(req.Message)
	if question == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return
	}

	out, err := sess.Ask(r.Context(), h.Pipeline, question)
	if errors.Is(err, session.ErrBusy) {
		httpError(w, http.StatusConflict, "conflict", "%v", err)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "answering: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, newAnswerView(out))
}

func (h *handler) handleSubmitVisitor(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var form visitor.Form
	if !decodeBody(w, r, maxRequestBodySize, &form) {
		return
	}

	req, err := h.Workflow.Submit(r.Context(), form)
	var ve *visitor.ValidationError
	if errors.As(err, &ve) {
		validationError(w, ve.Error(), ve.Fields())
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "submitting visitor request: %v", err)
		return
	}

	sess.AddTicket(req.TicketID)
	msg := visitor.ConfirmationMessage(req.TicketID)
	sess.Append(memory.System, msg)
	writeJSON(w, http.StatusCreated, map[string]any{
		"request": req,
		"message": msg,
	})
}

func (h *handler) handleLatestVisitor(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	req, found, err := h.Workflow.LatestOf(r.Context(), sess.Tickets())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading visitor requests: %v", err)
		return
	}
	if !found {
		httpError(w, http.StatusNotFound, "not_found", NoRequestsMessage)
		return
	}
	writeJSON(w, http.StatusOK, h.view(req))
}
