// Package webhook is the HTTP boundary: it verifies tracker signatures,
// normalizes payloads into change events, and hands them to the
// orchestrator. Nothing past this package ever sees raw payload bytes.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/metrics"
)

// maxPayloadBytes caps inbound webhook bodies.
const maxPayloadBytes = 1 << 20

// EventHandler consumes normalized change events. Implementations own
// deduplication and dispatch; the server only verifies and parses.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *event.ChangeEvent)
}

// Server handles tracker webhook deliveries.
type Server struct {
	handler    EventHandler
	secret     []byte
	metrics    *metrics.Metrics
	health     func() error
	mux        *http.ServeMux
	httpServer *http.Server

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Handler EventHandler
	Secret  []byte // HMAC secret for X-Hub-Signature-256 verification

	// Metrics is optional; when set, every request is counted and timed.
	Metrics *metrics.Metrics

	// Health is an optional downstream check folded into /healthz. A
	// failure reports degraded but keeps accepting deliveries.
	Health func() error

	ReadTimeout  time.Duration // zero means 30s
	WriteTimeout time.Duration // zero means 30s
	IdleTimeout  time.Duration // zero means 60s
}

// NewServer creates a webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		handler:      cfg.Handler,
		secret:       cfg.Secret,
		metrics:      cfg.Metrics,
		health:       cfg.Health,
		mux:          http.NewServeMux(),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		idleTimeout:  cfg.IdleTimeout,
	}
	if s.readTimeout <= 0 {
		s.readTimeout = 30 * time.Second
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 30 * time.Second
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = 60 * time.Second
	}
	s.mux.HandleFunc("/webhook", s.handleDelivery)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s
}

func (s *Server) buildServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
}

// Start starts the HTTP server on the given address and blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = s.buildServer(addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.instrument(s.mux), "webhook")
}

// instrument counts and times every request when metrics are configured.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path,
			strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if len(s.secret) > 0 {
		if !verifySignature(s.secret, body, r.Header.Get("X-Hub-Signature-256")) {
			log.Printf("[Webhook] rejected delivery %s: bad signature", r.Header.Get("X-GitHub-Delivery"))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	ev, err := Normalize(r.Header.Get("X-GitHub-Event"), r.Header.Get("X-GitHub-Delivery"), body)
	if err != nil {
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}
	if ev == nil {
		// Recognized but irrelevant event kind; acknowledge it so the
		// tracker does not retry.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.handler.HandleEvent(r.Context(), ev)
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"accepted": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health != nil {
		if err := s.health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// verifySignature checks a GitHub-style "sha256=<hex>" HMAC signature in
// constant time.
func verifySignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
