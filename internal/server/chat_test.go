package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ratemate/ratemate-go/internal/assistant"
	"github.com/ratemate/ratemate-go/internal/rag"
	"github.com/ratemate/ratemate-go/internal/widgets"
)

// ---------------------------------------------------------------------------
// Fake asker for chat handler tests
// ---------------------------------------------------------------------------

// fakeAsker implements the asker interface for tests.
// It writes a fixed response to the writer and returns configurable values.
type fakeAsker struct {
	// response is written verbatim to the writer on each Ask call.
	response string
	// answer is returned on success; if nil a bare Answer with Text=response
	// is returned.
	answer *assistant.Answer
	// err is returned as the error value.
	err error
	// gotSessionID records the session ID of the last Ask call.
	gotSessionID string
}

func (f *fakeAsker) Ask(_ context.Context, sessionID, _ string, w io.Writer) (*assistant.Answer, error) {
	f.gotSessionID = sessionID
	if f.err != nil {
		return nil, f.err
	}
	_, _ = fmt.Fprint(w, f.response)
	if f.answer != nil {
		return f.answer, nil
	}
	return &assistant.Answer{Text: f.response}, nil
}

// newTestServer builds a minimal *Server with a fresh metrics registry so
// handler tests never touch prometheus.DefaultRegisterer.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		asker: &fakeAsker{},
		cfg: &Config{
			Port:        8080,
			ChatTimeout: 5 * time.Minute,
		},
		log:     slog.Default(),
		metrics: newServerMetrics(reg),
	}
}

// newChatTestServer builds a *Server wired with the given asker fake.
func newChatTestServer(a asker) *Server {
	s := newTestServer()
	s.asker = a
	return s
}

// ---------------------------------------------------------------------------
// POST /api/chat — validation error paths (no assistant needed)
// ---------------------------------------------------------------------------

func TestHandleChat_MissingMessage(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeAsker{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"sessionId":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing message, got %d", w.Code)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeAsker{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{not json`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat — SSE streaming
// ---------------------------------------------------------------------------

func TestHandleChat_StreamsResponse(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeAsker{response: "rates dropped last week"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"what happened to rates?"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type: expected text/event-stream, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: rates dropped last week") {
		t.Errorf("expected streamed data frame, got:\n%s", body)
	}
	if !strings.Contains(body, "event: done\ndata: [DONE]") {
		t.Errorf("expected done event, got:\n%s", body)
	}
}

func TestHandleChat_EmitsSourcesAndWidgets(t *testing.T) {
	t.Parallel()

	ans := &assistant.Answer{
		Text: "see [1]",
		Sources: []rag.SourceItem{
			{Kind: rag.KindPost, Title: "Rate lock", URL: "https://reddit.com/r/1"},
		},
		Widgets: &widgets.Selection{
			ShowPosts: true,
			PostTitle: widgets.DefaultPostTitle,
			Posts: []widgets.Widget{
				{Kind: widgets.KindPost, Title: "Rate lock", URL: "https://reddit.com/r/1"},
			},
		},
	}
	s := newChatTestServer(&fakeAsker{response: "see [1]", answer: ans})
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"rate locks?"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: sources") {
		t.Errorf("expected sources event, got:\n%s", body)
	}
	if !strings.Contains(body, `\"title\":\"Rate lock\"`) && !strings.Contains(body, `"title":"Rate lock"`) {
		t.Errorf("expected source payload, got:\n%s", body)
	}
	if !strings.Contains(body, "event: widgets") {
		t.Errorf("expected widgets event, got:\n%s", body)
	}
	if !strings.Contains(body, "event: html") {
		t.Errorf("expected html event with rendered citations, got:\n%s", body)
	}
	if !strings.Contains(body, "citation") {
		t.Errorf("expected citation markup in html event, got:\n%s", body)
	}
}

func TestHandleChat_EmitsDegradedSources(t *testing.T) {
	t.Parallel()

	ans := &assistant.Answer{
		Text:     "partial answer",
		Degraded: []string{"comments"},
	}
	s := newChatTestServer(&fakeAsker{response: "partial answer", answer: ans})
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"anything"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: degraded\ndata: [\"comments\"]") {
		t.Errorf("expected degraded event, got:\n%s", body)
	}
}

func TestHandleChat_AskError(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeAsker{err: errors.New("model unreachable")})
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event, got:\n%s", body)
	}
	if !strings.Contains(body, "model unreachable") {
		t.Errorf("expected error message in event data, got:\n%s", body)
	}
	if strings.Contains(body, "event: done") {
		t.Errorf("done event must not follow an error, got:\n%s", body)
	}
}

func TestHandleChat_AssignsSessionID(t *testing.T) {
	t.Parallel()

	fake := &fakeAsker{response: "ok"}
	s := newChatTestServer(fake)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if fake.gotSessionID == "" {
		t.Error("expected a generated session ID when none supplied")
	}
}

func TestHandleChat_KeepsClientSessionID(t *testing.T) {
	t.Parallel()

	fake := &fakeAsker{response: "ok"}
	s := newChatTestServer(fake)
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi","sessionId":"session-7"}`))
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if fake.gotSessionID != "session-7" {
		t.Errorf("expected session-7 passed through, got %q", fake.gotSessionID)
	}
}

// ---------------------------------------------------------------------------
// GET /api/stats
// ---------------------------------------------------------------------------

// fakeStats implements statsReader for tests.
type fakeStats struct {
	counts rag.Stats
	err    error
}

func (f *fakeStats) Counts(_ context.Context) (rag.Stats, error) {
	return f.counts, f.err
}

func TestHandleStats_ReturnsCounts(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.stats = &fakeStats{counts: rag.Stats{Posts: 120, Comments: 450, Attachments: 8}}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	s.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{`"posts":120`, `"comments":450`, `"attachments":8`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in body, got: %s", want, body)
		}
	}
}

func TestHandleStats_QueryError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.stats = &fakeStats{err: errors.New("db locked")}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	s.handleStats(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestHandleStats_NoReader(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	s.handleStats(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when stats reader absent, got %d", w.Code)
	}
}
