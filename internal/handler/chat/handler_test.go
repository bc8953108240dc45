package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/vehicast/relay/internal/session"
	"github.com/vehicast/relay/pkg/protocol"
)

type stubCompleter struct {
	response string
}

func (s *stubCompleter) Stream(ctx context.Context, history []protocol.Turn, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(s.response, nil)}), nil
}

func (s *stubCompleter) Generate(ctx context.Context, history []protocol.Turn, userMessage string) (*schema.Message, error) {
	return schema.AssistantMessage(s.response, nil), nil
}

func newTestRouter(store *session.Store) http.Handler {
	r := chi.NewRouter()
	New(store, &stubCompleter{response: "fallback answer"}).RegisterRoutes(r)
	return r
}

func TestChatMintsSessionAndResponds(t *testing.T) {
	store := session.NewStore(30 * time.Minute)
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Response  string `json:"response"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body err: %v", err)
	}
	if body.Response != "fallback answer" {
		t.Fatalf("unexpected response: %q", body.Response)
	}
	if body.SessionID == "" {
		t.Fatal("expected a minted session id")
	}

	history, err := store.History(body.SessionID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user and assistant turns recorded, got %d", len(history))
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	router := newTestRouter(session.NewStore(time.Minute))

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatConflictsWithActiveTurn(t *testing.T) {
	store := session.NewStore(30 * time.Minute)
	router := newTestRouter(store)

	id, _ := store.Ensure("")
	if err := store.BeginTurn(id); err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","sessionId":"`+id+`"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a turn is in flight, got %d", rec.Code)
	}
}

func TestChatWithoutCompleterUnavailable(t *testing.T) {
	r := chi.NewRouter()
	New(session.NewStore(time.Minute), nil).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
