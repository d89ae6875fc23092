// Package bridge implements the Invocation Bridge (spec.md §4.5): the
// in-memory state machine holding at most one runtime "next" connection and
// at most one in-flight external invoke connection, matching the two by a
// freshly generated request id.
//
// All state transitions are serialized under a single mutex (spec.md §5).
// Held HTTP responses are written only while holding the lock, then cleared
// immediately so later transitions cannot touch them.
package bridge

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fnharness/devbridge/internal/logging"
)

// heldConnection is an open HTTP response plus the wall-clock time it was
// held, used only for the queue-wait observability gauge — it carries no
// protocol semantics of its own.
type heldConnection struct {
	w        http.ResponseWriter
	done     chan struct{}
	heldSince time.Time
}

// NextHeldObserver receives the wall-clock duration a runtime-next
// connection sat held before it resolved, whether by Trigger, preemption, or
// a silent client disconnect (SPEC_FULL.md §3's queueWaitMs gauge).
type NextHeldObserver interface {
	ObserveNextHeldMs(ms float64)
}

// Bridge is the process-wide invocation state machine. Zero value is
// unusable; use New.
type Bridge struct {
	mu sync.Mutex

	nextConn    *heldConnection
	invokeConn  *heldConnection
	currentRequestID   string
	currentFunctionName string

	runtimeEverConnected bool
	sessionCleanup       func(requestID string)

	onTransition func(state string, requestID string)
	metrics      NextHeldObserver
}

// New returns an idle Bridge.
func New() *Bridge {
	return &Bridge{}
}

// SetMetrics installs the observer notified of held-next-connection
// durations. m may be nil to disable the gauge.
func (b *Bridge) SetMetrics(m NextHeldObserver) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

func (b *Bridge) observeHeld(held *heldConnection) {
	if b.metrics != nil {
		b.metrics.ObserveNextHeldMs(float64(time.Since(held.heldSince).Milliseconds()))
	}
}

// OnTransition installs a debug-observability hook called after every state
// transition, carrying the resulting state name and current request id. It
// has no effect on the state machine itself (SPEC_FULL.md §4.5 expansion).
func (b *Bridge) OnTransition(fn func(state string, requestID string)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

func (b *Bridge) notify(state string) {
	if b.onTransition != nil {
		b.onTransition(state, b.currentRequestID)
	}
	logging.Op().Debug("bridge transition", "state", state, "request_id", b.currentRequestID)
}

// RuntimeEverConnected reports whether any runtime-next request has ever
// been held by this bridge instance.
func (b *Bridge) RuntimeEverConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runtimeEverConnected
}

// SetSessionCleanupCallback stores a function the bridge MAY invoke on
// bridge-initiated terminations. In this implementation the server performs
// cleanup directly in the external-invoke handler's terminal branches
// (spec.md §4.5's documented simplification); this hook exists for a future
// timeout subsystem and is otherwise unused.
func (b *Bridge) SetSessionCleanupCallback(fn func(requestID string)) {
	b.mu.Lock()
	b.sessionCleanup = fn
	b.mu.Unlock()
}

// HoldNext registers w as the held runtime-next connection and returns the
// channel that closes once it has been completed (by a Trigger) or
// preempted by a later HoldNext. If another runtime connection is already
// held, it is preempted immediately: completed with 503, and w takes its
// place (spec.md I7, P5).
func (b *Bridge) HoldNext(w http.ResponseWriter) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nextConn != nil {
		writeJSON(b.nextConn.w, http.StatusServiceUnavailable, map[string]string{
			"error": "Another runtime connected",
		})
		b.observeHeld(b.nextConn)
		close(b.nextConn.done)
	}

	held := &heldConnection{w: w, done: make(chan struct{}), heldSince: time.Now()}
	b.nextConn = held
	b.runtimeEverConnected = true
	b.notify("NEXT_HELD")
	return held.done
}

// ReleaseNext clears nextConn without writing a response, for the case
// where the runtime's long-poll client disconnected before a trigger
// consumed it (spec.md §5: "if nextConn closes, clear it silently").
func (b *Bridge) ReleaseNext(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nextConn != nil && b.nextConn.w == w {
		b.observeHeld(b.nextConn)
		b.nextConn = nil
	}
}

// Trigger attempts to start an invocation. It succeeds iff nextConn is held
// and no invocation is currently in flight. On success it generates a fresh
// UUID v4 request id, writes the invocation payload to the held nextConn
// with Lambda-Runtime-* headers, clears nextConn, and holds callerRes as
// invokeConn until a matching completeWith* call arrives.
func (b *Bridge) Trigger(functionName string, params, invocationCtx map[string]any, callerRes http.ResponseWriter, callerDone chan struct{}, deadline time.Duration) (requestID string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nextConn == nil || b.invokeConn != nil {
		return "", false
	}

	id := uuid.New().String()
	b.currentRequestID = id
	b.currentFunctionName = functionName
	b.invokeConn = &heldConnection{w: callerRes, done: callerDone, heldSince: time.Now()}

	held := b.nextConn
	b.nextConn = nil
	b.observeHeld(held)

	held.w.Header().Set("Lambda-Runtime-Aws-Request-Id", id)
	held.w.Header().Set("Lambda-Runtime-Deadline-Ms", deadlineMillis(deadline))
	held.w.Header().Set("Lambda-Runtime-Invoked-Function-Arn", syntheticArn(functionName))
	writeJSON(held.w, http.StatusOK, map[string]any{
		"functionName": functionName,
		"params":       params,
		"context":      invocationCtx,
	})
	close(held.done)

	b.notify("INVOKING")
	return id, true
}

// CompleteWithSuccess matches requestID against the active invocation and,
// on match, writes result as a 200 JSON body to the held caller response and
// resets state to idle. A mismatch leaves the current invocation untouched
// and returns false (spec.md I4, P3).
func (b *Bridge) CompleteWithSuccess(requestID string, result any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete(requestID, http.StatusOK, result)
}

// CompleteWithError matches requestID as CompleteWithSuccess does, writing a
// 500 body shaped {error:{message,type,stackTrace}}.
func (b *Bridge) CompleteWithError(requestID string, runtimeError RuntimeErrorBody) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete(requestID, http.StatusInternalServerError, map[string]any{"error": runtimeError})
}

// RuntimeErrorBody is the shape forwarded to the external caller on handler
// failure: {message, type, stackTrace}.
type RuntimeErrorBody struct {
	Message    string   `json:"message"`
	Type       string   `json:"type"`
	StackTrace []string `json:"stackTrace"`
}

func (b *Bridge) complete(requestID string, status int, body any) bool {
	if b.invokeConn == nil || requestID != b.currentRequestID {
		return false
	}

	held := b.invokeConn
	writeJSON(held.w, status, body)
	close(held.done)

	b.invokeConn = nil
	b.currentRequestID = ""
	b.currentFunctionName = ""
	b.notify("IDLE")
	return true
}

// AbandonInvoke clears invokeConn without writing a response, for the case
// where the external caller disconnected before completion. The caller of
// AbandonInvoke is responsible for releasing the associated session
// (spec.md I5).
func (b *Bridge) AbandonInvoke(callerRes http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.invokeConn != nil && b.invokeConn.w == callerRes {
		b.invokeConn = nil
		b.currentRequestID = ""
		b.currentFunctionName = ""
		b.notify("IDLE")
	}
}

// CurrentRequestID returns the active request id, or "" if idle.
func (b *Bridge) CurrentRequestID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentRequestID
}

func deadlineMillis(d time.Duration) string {
	return strconv.FormatInt(time.Now().Add(d).UnixMilli(), 10)
}

func syntheticArn(functionName string) string {
	return "arn:aws:lambda:local:000000000000:function:" + functionName
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
