// Package httpserver routes and serves the bridge's HTTP surface: the four
// protocol endpoints from spec.md §4.6 plus the additive /metrics and
// /healthz endpoints from SPEC_FULL.md §4.6.
package httpserver

import (
	"net/http"
	"time"

	json "github.com/segmentio/encoding/json"

	"github.com/fnharness/devbridge/internal/apperr"
	"github.com/fnharness/devbridge/internal/bridge"
	"github.com/fnharness/devbridge/internal/metrics"
	"github.com/fnharness/devbridge/internal/observability"
	"github.com/fnharness/devbridge/manifest"
	"github.com/fnharness/devbridge/session"
)

// Server bundles everything the HTTP handlers need: the bridge state
// machine, the manifest store, a session provider, and optional metrics.
type Server struct {
	bridge   *bridge.Bridge
	store    *manifest.Store
	sessions session.Provider
	metrics  *metrics.Registry
	deadline time.Duration
}

// New returns a Server. metrics may be nil to disable instrumentation.
func New(br *bridge.Bridge, store *manifest.Store, sessions session.Provider, m *metrics.Registry, deadline time.Duration) *Server {
	return &Server{bridge: br, store: store, sessions: sessions, metrics: m, deadline: deadline}
}

// Mux builds the http.Handler routing all endpoints this server handles,
// wrapped in CORS handling and OpenTelemetry request tracing.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/functions/{name}/invoke", observability.TracingHandler("devbridge.invoke", s.handleInvoke))
	mux.HandleFunc("GET /2018-06-01/runtime/invocation/next", s.handleNext)
	mux.HandleFunc("POST /2018-06-01/runtime/invocation/{requestId}/response", s.handleResponse)
	mux.HandleFunc("POST /2018-06-01/runtime/invocation/{requestId}/error", s.handleError)
	mux.HandleFunc("/", s.handleNotFound)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return observability.HTTPMiddleware(withCORS(mux))
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runtimeConnected":    s.bridge.RuntimeEverConnected(),
		"registeredFunctions": s.store.Size(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErr(w, apperr.New(apperr.NotFound, "Not found"), s.metrics)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, e *apperr.Error, m *metrics.Registry) {
	if m != nil {
		m.RecordError(e.Code())
	}
	writeJSON(w, e.Kind.Status(), e.ToBody())
}
