package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/campusdesk/internal/composer"
	"github.com/kalambet/campusdesk/internal/llm"
)

func testMessages() []composer.Message {
	return []composer.Message{
		{Role: composer.RoleUser, Text: "hello"},
		{Role: composer.RoleModel, Text: "Hi!"},
		{Role: composer.RoleUser, Text: "SYS\n\nCONTEXT:\nc\n\nUSER QUESTION:\nq"},
	}
}

func TestGenerate_Success(t *testing.T) {
	var got generateRequest
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  The library opens at 8 AM.  "}]}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1beta/models/gemini-2.0-flash:generateContent", "secret")
	text, err := c.Generate(context.Background(), testMessages(), 0.5)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "The library opens at 8 AM." {
		t.Errorf("text = %q", text)
	}
	if gotKey != "secret" {
		t.Errorf("key query param = %q, want secret", gotKey)
	}
	if len(got.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(got.Contents))
	}
	if got.Contents[1].Role != "model" || got.Contents[2].Role != "user" {
		t.Errorf("roles = %q, %q", got.Contents[1].Role, got.Contents[2].Role)
	}
	if got.GenerationConfig.Temperature != 0.5 {
		t.Errorf("temperature = %v, want 0.5", got.GenerationConfig.Temperature)
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   llm.Reason
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, llm.ReasonStatus},
		{"rate limited", http.StatusTooManyRequests, ``, llm.ReasonStatus},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, llm.ReasonEmpty},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, llm.ReasonBlocked},
		{"candidate without content", http.StatusOK, `{"candidates":[{}]}`, llm.ReasonEmpty},
		{"blank text", http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`, llm.ReasonEmpty},
		{"not json", http.StatusOK, `<html>`, llm.ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "k").Generate(context.Background(), testMessages(), 0.5)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := llm.Classify(err); got != tt.want {
				t.Errorf("Classify = %q, want %q (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestGenerate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL, "k").Generate(context.Background(), testMessages(), 0.5)
	if got := llm.Classify(err); got != llm.ReasonTransport {
		t.Errorf("Classify = %q, want transport (err: %v)", got, err)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "k").Generate(ctx, testMessages(), 0.5)
	if got := llm.Classify(err); got != llm.ReasonTimeout {
		t.Errorf("Classify = %q, want timeout (err: %v)", got, err)
	}
}

func TestAvailable(t *testing.T) {
	tests := map[string]bool{"": false, "GEMINI_API_KEY": false, "AIza-real": true}
	for key, want := range tests {
		if got := NewClient("http://x", key).Available(); got != want {
			t.Errorf("Available() with key %q = %v, want %v", key, got, want)
		}
	}
}
