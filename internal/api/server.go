package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kalambet/campusdesk/internal/observability"
	"github.com/kalambet/campusdesk/internal/pipeline"
	"github.com/kalambet/campusdesk/internal/session"
	"github.com/kalambet/campusdesk/internal/visitor"
)

// Deps holds everything the HTTP API serves from.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Prober     pipeline.Prober
	Sessions   *session.Manager
	Workflow   *visitor.Workflow
	Staff      *visitor.StaffSessions
	Documents  DocumentStore
	Metrics    *observability.Metrics
	Token      string
	HTTPClient *http.Client
}

type handler struct {
	Deps
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler returns the campusdesk REST API. Visitor routes are open; staff
// and knowledge-base routes require the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	h := &handler{
		Deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
		now: time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/v1/connectivity", h.handleConnectivity)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/history", h.handleHistory)
			r.Post("/messages", h.handleMessage)
			r.Get("/events", h.handleEvents)
			r.Post("/visitor-requests", h.handleSubmitVisitor)
			r.Get("/visitor-requests/latest", h.handleLatestVisitor)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/v1/staff", func(r chi.Router) {
			r.Post("/session", h.handleStaffLogin)
			r.Get("/session", h.handleStaffSession)
			r.Get("/visitor-requests", h.handleListVisitors)
			r.Get("/visitor-requests/stats", h.handleVisitorStats)
			r.Post("/visitor-requests/{ticket}/approve", h.handleDecide(visitor.StatusApproved))
			r.Post("/visitor-requests/{ticket}/deny", h.handleDecide(visitor.StatusDenied))
		})

		if deps.Documents != nil {
			r.Post("/v1/kb/documents", h.handleIngest)
			r.Get("/v1/kb/documents", h.handleListDocuments)
			r.Get("/v1/kb/jobs/{id}", h.handleGetJob)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *handler) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Prober.Probe(r.Context()))
}
