package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fnharness/devbridge/internal/logging"
	"github.com/fnharness/devbridge/internal/observability"
	"github.com/fnharness/devbridge/phase"
	"github.com/fnharness/devbridge/registry"
)

// Outcome labels the three ways one loop iteration can end, used as the
// label of the runtime-outcomes Prometheus counter. The HTTP server side
// records its own counters and does not use these labels.
type Outcome string

const (
	Accepted   Outcome = "accepted"
	UserError  Outcome = "user_error"
	SystemError Outcome = "system_error"
)

// Metrics is the narrow interface the loop reports outcomes through,
// satisfied by internal/metrics.Registry. Kept as an interface here so this
// package has no dependency on the Prometheus client library directly.
type Metrics interface {
	ObserveRuntimeOutcome(outcome Outcome)
}

// noopMetrics satisfies Metrics when the caller does not wire one in.
type noopMetrics struct{}

func (noopMetrics) ObserveRuntimeOutcome(Outcome) {}

// Loop is the single-threaded cooperative driver on the handler side.
type Loop struct {
	client   *http.Client
	baseURL  string
	registry *registry.Registry
	selector *phase.Selector
	metrics  Metrics
}

// NewLoop returns a Loop polling baseURL's runtime endpoints and dispatching
// into reg. metrics may be nil, in which case outcomes are simply discarded.
func NewLoop(baseURL string, reg *registry.Registry, selector *phase.Selector, metrics Metrics) *Loop {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Loop{
		client:   &http.Client{Timeout: 0}, // the next-poll is an intentional long hold
		baseURL:  baseURL,
		registry: reg,
		selector: selector,
		metrics:  metrics,
	}
}

// Run executes iterations until ctx is cancelled or a system error is fatal
// under the selector's environment policy.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.iterate(ctx); err != nil {
			logging.Op().Error("runtime loop system error", "error", err)
			if l.selector.Environment().FatalOnSystemError() {
				return fmt.Errorf("fatal system error: %w", err)
			}
			// local mode: keep the dev loop alive.
			continue
		}
	}
}

func (l *Loop) iterate(ctx context.Context) error {
	requestID, payload, err := l.next(ctx)
	if err != nil {
		l.metrics.ObserveRuntimeOutcome(SystemError)
		return fmt.Errorf("runtime: fetch next invocation: %w", err)
	}

	// The invocation's trace context crossed the bridge boundary embedded in
	// its context object (spec.md §4.6); link this span as its child instead
	// of starting an unrelated root span.
	parentCtx := observability.InjectTraceContext(ctx, extractTraceContext(payload.Context))
	spanCtx, span := observability.StartSpan(parentCtx, "devbridge.runtime.invocation",
		attribute.String("devbridge.function_name", payload.FunctionName))
	defer span.End()

	logging.OpWithTrace(observability.GetTraceID(spanCtx), observability.GetSpanID(spanCtx)).
		Debug("runtime invocation started", "function", payload.FunctionName, "request_id", requestID)

	result, handlerErr := l.registry.Execute(spanCtx, payload.FunctionName, payload.Context, payload.Params)
	if handlerErr != nil {
		if isMissingFunctionError(handlerErr) {
			l.metrics.ObserveRuntimeOutcome(SystemError)
			observability.SetSpanError(span, handlerErr)
			return fmt.Errorf("runtime: %w", handlerErr)
		}
		l.metrics.ObserveRuntimeOutcome(UserError)
		observability.SetSpanError(span, handlerErr)
		normalized := NormalizeError(handlerErr)
		if err := l.postError(spanCtx, requestID, normalized); err != nil {
			return fmt.Errorf("runtime: post error: %w", err)
		}
		return nil
	}

	l.metrics.ObserveRuntimeOutcome(Accepted)
	observability.SetSpanOK(span)
	if err := l.postResponse(spanCtx, requestID, result); err != nil {
		return fmt.Errorf("runtime: post response: %w", err)
	}
	return nil
}

func isMissingFunctionError(err error) bool {
	return errors.Is(err, registry.ErrFunctionNotFound)
}

// extractTraceContext reads the traceparent/tracestate fields the external
// invoke handler wrote into the invocation's context object.
func extractTraceContext(invocationCtx map[string]any) observability.TraceContext {
	var tc observability.TraceContext
	if v, ok := invocationCtx["traceparent"].(string); ok {
		tc.TraceParent = v
	}
	if v, ok := invocationCtx["tracestate"].(string); ok {
		tc.TraceState = v
	}
	return tc
}

func (l *Loop) next(ctx context.Context) (requestID string, payload EventPayload, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/2018-06-01/runtime/invocation/next", nil)
	if err != nil {
		return "", EventPayload{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", EventPayload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", EventPayload{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	requestID = resp.Header.Get("Lambda-Runtime-Aws-Request-Id")
	if requestID == "" {
		return "", EventPayload{}, fmt.Errorf("missing Lambda-Runtime-Aws-Request-Id header")
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", EventPayload{}, fmt.Errorf("decode invocation payload: %w", err)
	}
	return requestID, payload, nil
}

func (l *Loop) postResponse(ctx context.Context, requestID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return l.post(ctx, fmt.Sprintf("/2018-06-01/runtime/invocation/%s/response", requestID), data)
}

func (l *Loop) postError(ctx context.Context, requestID string, runtimeErr Error) error {
	data, err := json.Marshal(runtimeErr)
	if err != nil {
		return err
	}
	return l.post(ctx, fmt.Sprintf("/2018-06-01/runtime/invocation/%s/error", requestID), data)
}

func (l *Loop) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		observability.SetSpanError(observability.SpanFromContext(ctx), err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusBadRequest {
		respBody, _ := io.ReadAll(resp.Body)
		postErr := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		observability.SetSpanError(observability.SpanFromContext(ctx), postErr)
		return postErr
	}
	// A 400 here means the bridge rejected our request id as stale
	// (ProtocolMismatch) — logged here, not treated as fatal.
	if resp.StatusCode == http.StatusBadRequest {
		logging.Op().Warn("runtime: outcome post rejected by bridge (stale request id)", "path", path)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
