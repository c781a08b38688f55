package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ratemate/ratemate-go/internal/assistant"
	"github.com/ratemate/ratemate-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat request end to end, including the
	// LLM stream. Defaults to 5 minutes if zero.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives all server metric registrations. Defaults to
	// prometheus.DefaultRegisterer. Tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint. Defaults to
	// prometheus.DefaultGatherer. Must gather from MetricsRegistry.
	MetricsGatherer prometheus.Gatherer
}

// asker is the interface handleChat calls to stream a response.
// *assistant.Assistant satisfies it; tests inject a fake.
type asker interface {
	// Ask streams the assistant's answer text for question to w and returns
	// the full answer with its aligned sources and suggested widgets.
	Ask(ctx context.Context, sessionID, question string, w io.Writer) (*assistant.Answer, error)
}

// statsReader is the interface handleStats calls for corpus row counts.
// *store.SQLiteStore satisfies it.
type statsReader interface {
	// Counts returns the per-table row counts for the whole corpus.
	Counts(ctx context.Context) (rag.Stats, error)
}

// Server is the HTTP server that exposes the assistant over a REST/SSE API.
type Server struct {
	// asker answers chat questions; set to the assistant in production,
	// overridden by a fake in tests.
	asker asker
	// stats serves corpus row counts for GET /api/stats.
	stats statsReader
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds all Prometheus instruments owned by this server instance.
	metrics *serverMetrics
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's natural language question.
	Message string `json:"message"`
	// SessionID groups messages into one conversation for multi-turn context.
	// If empty, the server assigns a fresh session ID per request.
	SessionID string `json:"sessionId"`
}

// chatSource is one citable source emitted on the SSE "sources" event.
// The array is positionally aligned with the citation numbers in the answer:
// citation [n] resolves to element n-1.
type chatSource struct {
	// Kind is the source type: "post" or "attachment".
	Kind string `json:"kind"`
	// Title is the display string (post title or attachment filename).
	Title string `json:"title"`
	// URL is the direct link: the post URL or a presigned document URL.
	URL string `json:"url,omitempty"`
	// ParentPostURL links an attachment back to the post it came from.
	ParentPostURL string `json:"parentPostUrl,omitempty"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Posts is the total number of posts in the corpus.
	Posts int64 `json:"posts"`
	// Comments is the total number of comments in the corpus.
	Comments int64 `json:"comments"`
	// Attachments is the total number of document attachments in the corpus.
	Attachments int64 `json:"attachments"`
}
