package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnharness/devbridge/internal/bridge"
	"github.com/fnharness/devbridge/internal/httpserver"
	"github.com/fnharness/devbridge/manifest"
	"github.com/fnharness/devbridge/session"
)

func newTestServer(t *testing.T, manifests ...manifest.PersistedManifest) (*httptest.Server, *session.FakeProvider) {
	t.Helper()
	dir := t.TempDir()
	e := manifest.NewEmitter(dir)
	for i, pm := range manifests {
		require.NoError(t, e.Write(i == 0, pm.Name, pm.Config))
	}
	store := manifest.NewStore(dir)
	require.NoError(t, store.Load())

	sessions := session.NewFakeProvider()
	br := bridge.New()
	srv := httpserver.New(br, store, sessions, nil, time.Minute)
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func pollNext(t *testing.T, baseURL string) *http.Response {
	t.Helper()
	resp, err := http.Get(baseURL + "/2018-06-01/runtime/invocation/next")
	require.NoError(t, err)
	return resp
}

func TestHappyPathEchoRoundTrip(t *testing.T) {
	ts, sessions := newTestServer(t, manifest.PersistedManifest{Name: "echo"})

	nextCh := make(chan *http.Response, 1)
	go func() { nextCh <- pollNext(t, ts.URL) }()
	time.Sleep(20 * time.Millisecond)

	invokeCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/v1/functions/echo/invoke", "application/json",
			bytes.NewBufferString(`{"params":{"x":1}}`))
		require.NoError(t, err)
		invokeCh <- resp
	}()

	next := <-nextCh
	defer next.Body.Close()
	assert.Equal(t, http.StatusOK, next.StatusCode)
	requestID := next.Header.Get("Lambda-Runtime-Aws-Request-Id")
	require.NotEmpty(t, requestID)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(next.Body).Decode(&payload))
	assert.Equal(t, "echo", payload["functionName"])

	resp, err := http.Post(ts.URL+"/2018-06-01/runtime/invocation/"+requestID+"/response",
		"application/json", bytes.NewBufferString(`{"ok":true}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	invokeResp := <-invokeCh
	defer invokeResp.Body.Close()
	assert.Equal(t, http.StatusOK, invokeResp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(invokeResp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])

	assert.Equal(t, 0, sessions.Live(), "session must be released after a completed invocation")
}

func TestUnknownFunctionReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/functions/ghost/invoke", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body["error"])
}

func TestInvokeWithNoRuntimeConnectedReturns503AndLeaksNoSession(t *testing.T) {
	ts, sessions := newTestServer(t, manifest.PersistedManifest{Name: "echo"})

	resp, err := http.Post(ts.URL+"/v1/functions/echo/invoke", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, sessions.Live())
}

func TestMismatchedRequestIDRejectedThenMatchingAccepted(t *testing.T) {
	ts, _ := newTestServer(t, manifest.PersistedManifest{Name: "echo"})

	nextCh := make(chan *http.Response, 1)
	go func() { nextCh <- pollNext(t, ts.URL) }()
	time.Sleep(20 * time.Millisecond)

	invokeCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/v1/functions/echo/invoke", "application/json", bytes.NewBufferString(`{}`))
		require.NoError(t, err)
		invokeCh <- resp
	}()

	next := <-nextCh
	defer next.Body.Close()
	requestID := next.Header.Get("Lambda-Runtime-Aws-Request-Id")
	require.NotEmpty(t, requestID)

	// A mismatched request id must be rejected with 400.
	mismatch, err := http.Post(ts.URL+"/2018-06-01/runtime/invocation/not-the-id/response",
		"application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, mismatch.StatusCode)
	mismatch.Body.Close()

	ok, err := http.Post(ts.URL+"/2018-06-01/runtime/invocation/"+requestID+"/response",
		"application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, ok.StatusCode)
	ok.Body.Close()

	invokeResp := <-invokeCh
	invokeResp.Body.Close()
}

func TestRuntimePreemptionRespondsServiceUnavailableToFirstPoller(t *testing.T) {
	ts, _ := newTestServer(t)

	firstCh := make(chan *http.Response, 1)
	go func() { firstCh <- pollNext(t, ts.URL) }()
	time.Sleep(20 * time.Millisecond)

	secondCtx, cancelSecond := context.WithCancel(context.Background())
	t.Cleanup(cancelSecond)
	go func() {
		req, err := http.NewRequestWithContext(secondCtx, http.MethodGet, ts.URL+"/2018-06-01/runtime/invocation/next", nil)
		if err != nil {
			return
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	first := <-firstCh
	defer first.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, first.StatusCode)

	// Stop the second poller from blocking the test; it now owns the hold.
	// Cancelling its request at cleanup (before the server closes) ends the
	// held long-poll.
}

func TestHealthzReportsManifestCount(t *testing.T) {
	ts, _ := newTestServer(t, manifest.PersistedManifest{
		Name: "double",
		Config: manifest.Config{
			SessionConfig: map[string]any{"region": "local"},
		},
	})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["registeredFunctions"])
}

func TestCatchAllReturns404ForUnmatchedPaths(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/nothing/here")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRootHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
