package httpserver

import (
	"context"
	"net/http"
	"time"

	json "github.com/segmentio/encoding/json"
	"github.com/google/uuid"

	"github.com/fnharness/devbridge/internal/apperr"
	"github.com/fnharness/devbridge/internal/logging"
	"github.com/fnharness/devbridge/internal/observability"
)

// invokeRequestBody is the external caller's POST body (spec.md §6).
type invokeRequestBody struct {
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context"`
}

// handleInvoke implements the external-invoke algorithm, spec.md §4.6.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := r.PathValue("name")

	var body invokeRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, apperr.New(apperr.BadRequest, "Invalid JSON body"), s.metrics)
			return
		}
	}
	if body.Params == nil {
		body.Params = map[string]any{}
	}

	pm, ok := s.store.Get(name)
	if !ok {
		writeErr(w, apperr.New(apperr.NotFound, "Function not found in registry"), s.metrics)
		return
	}

	sess, err := s.sessions.Create(context.Background(), pm.Config.SessionConfig)
	if err != nil {
		writeErr(w, apperr.New(apperr.SessionProvisionFailed, "Failed to create browser session").WithDetails(err.Error()), s.metrics)
		return
	}

	invocationCtx := body.Context
	if invocationCtx == nil {
		invocationCtx = map[string]any{
			"invocation": map[string]any{"id": uuid.New().String(), "region": "local"},
		}
	}
	invocationCtx["session"] = map[string]any{"id": sess.ID, "connectUrl": sess.ConnectURL}

	if observability.Enabled() {
		tc := observability.ExtractTraceContext(r.Context())
		if tc.TraceParent != "" {
			invocationCtx["traceparent"] = tc.TraceParent
			if tc.TraceState != "" {
				invocationCtx["tracestate"] = tc.TraceState
			}
		}
	}

	done := make(chan struct{})
	requestID, ok := s.bridge.Trigger(name, body.Params, invocationCtx, w, done, s.deadline)
	if !ok {
		releaseSession(s, sess.ID)
		msg := "No runtime connected"
		if s.bridge.CurrentRequestID() != "" {
			msg = "Another invocation is in progress"
		}
		writeErr(w, apperr.New(apperr.Unavailable, msg), s.metrics)
		return
	}

	logging.Op().Debug("invocation triggered", "function", name, "request_id", requestID)

	select {
	case <-done:
		// The bridge already wrote the response body and status.
	case <-r.Context().Done():
		// Client disconnected before completion; abandon the hold so the
		// bridge returns to idle, then release the session regardless.
		s.bridge.AbandonInvoke(w)
	}

	releaseSession(s, sess.ID)

	if s.metrics != nil {
		s.metrics.RecordInvocation(name, "completed", float64(time.Since(start).Milliseconds()))
	}
}

func releaseSession(s *Server, sessionID string) {
	if err := s.sessions.Release(context.Background(), sessionID); err != nil {
		logging.Op().Warn("session release failed", "session_id", sessionID, "error", err)
	}
}
