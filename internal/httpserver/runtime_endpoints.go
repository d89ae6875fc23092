package httpserver

import (
	"net/http"

	json "github.com/segmentio/encoding/json"

	"github.com/fnharness/devbridge/internal/apperr"
	"github.com/fnharness/devbridge/internal/bridge"
	"github.com/fnharness/devbridge/internal/logging"
)

// handleNext implements the runtime long-poll: GET
// /2018-06-01/runtime/invocation/next (spec.md §4.6). The handler blocks
// until HoldNext's returned channel closes, which happens either because a
// Trigger wrote the invocation payload directly to w, or because a later
// HoldNext preempted this one with a 503.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	firstConnect := !s.bridge.RuntimeEverConnected()
	done := s.bridge.HoldNext(w)
	if firstConnect {
		// Pick up manifests the handler process emitted just before it
		// first connected.
		if err := s.store.Load(); err != nil {
			logging.Op().Warn("manifest reload after first runtime connect failed", "error", err)
		}
	}
	select {
	case <-done:
	case <-r.Context().Done():
		s.bridge.ReleaseNext(w)
	}
}

// handleResponse implements POST
// /2018-06-01/runtime/invocation/{requestId}/response (spec.md §4.6).
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")

	var result any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			writeErr(w, apperr.New(apperr.BadRequest, "Invalid JSON body"), s.metrics)
			return
		}
	}

	if !s.bridge.CompleteWithSuccess(requestID, result) {
		writeErr(w, apperr.New(apperr.ProtocolMismatch, "No matching in-flight invocation"), s.metrics)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// runtimeErrorBody is the shape the runtime loop must POST on handler
// failure: {errorMessage, errorType, stackTrace[]}.
type runtimeErrorBody struct {
	ErrorMessage string   `json:"errorMessage"`
	ErrorType    string   `json:"errorType"`
	StackTrace   []string `json:"stackTrace"`
}

// handleError implements POST
// /2018-06-01/runtime/invocation/{requestId}/error (spec.md §4.6).
func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")

	var body runtimeErrorBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, apperr.New(apperr.BadRequest, "Invalid JSON body"), s.metrics)
		return
	}
	if body.ErrorMessage == "" || body.ErrorType == "" {
		writeErr(w, apperr.New(apperr.BadRequest, "errorMessage and errorType are required"), s.metrics)
		return
	}
	if body.StackTrace == nil {
		body.StackTrace = []string{}
	}

	runtimeErr := bridge.RuntimeErrorBody{
		Message:    body.ErrorMessage,
		Type:       body.ErrorType,
		StackTrace: body.StackTrace,
	}
	if !s.bridge.CompleteWithError(requestID, runtimeErr) {
		writeErr(w, apperr.New(apperr.ProtocolMismatch, "No matching in-flight invocation"), s.metrics)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
