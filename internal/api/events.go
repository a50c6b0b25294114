package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/campusdesk/internal/memory"
	"github.com/kalambet/campusdesk/internal/session"
)

// Event types exchanged over the session websocket.
const (
	EventTurn    = "turn"
	EventAnswer  = "answer"
	EventError   = "error"
	EventMessage = "message"
)

type wsEvent struct {
	Type   string       `json:"type"`
	Turn   *memory.Turn `json:"turn,omitempty"`
	Answer *answerView  `json:"answer,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type wsInbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// sameOrigin admits non-browser clients and browsers on this host only.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleEvents streams every turn appended to the session and accepts
// {"type":"message","text":...} frames as questions.
func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	turns, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	outbound := make(chan wsEvent, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var ev wsEvent
			select {
			case <-ctx.Done():
				return
			case t, ok := <-turns:
				if !ok {
					// Session expired.
					cancel()
					return
				}
				ev = wsEvent{Type: EventTurn, Turn: &t}
			case ev = <-outbound:
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				cancel()
				return
			}
			h.Metrics.ObserveWSMessage("outbound", ev.Type)
		}
	}()

	conn.SetReadLimit(64 << 10)
	for ctx.Err() == nil {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		h.Metrics.ObserveWSMessage("inbound", in.Type)
		if in.Type != EventMessage || strings.TrimSpace(in.Text) == "" {
			h.enqueue(ctx, outbound, wsEvent{Type: EventError, Error: "expected {\"type\":\"message\",\"text\":...}"})
			continue
		}
		go h.answer(ctx, sess, strings.TrimSpace(in.Text), outbound)
	}
	cancel()
	<-writerDone
}

func (h *handler) answer(ctx context.Context, sess *session.Session, question string, outbound chan<- wsEvent) {
	out, err := sess.Ask(ctx, h.Pipeline, question)
	if errors.Is(err, session.ErrBusy) {
		h.enqueue(ctx, outbound, wsEvent{Type: EventError, Error: err.Error()})
		return
	}
	if err != nil {
		slog.Error("websocket ask failed", "session", sess.ID, "error", err)
		return
	}
	v := newAnswerView(out)
	h.enqueue(ctx, outbound, wsEvent{Type: EventAnswer, Answer: &v})
}

func (h *handler) enqueue(ctx context.Context, outbound chan<- wsEvent, ev wsEvent) {
	select {
	case outbound <- ev:
	case <-ctx.Done():
	}
}
