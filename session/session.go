// Package session defines the Session Provider Adapter contract (spec.md
// §4.7): a thin interface over an external browser-session API, with an
// in-memory fake implementation for local development and tests.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Session is the opaque resource acquired before an invocation and released
// after it terminates. Fields beyond ID and ConnectURL are provider-specific
// and passed through verbatim.
type Session struct {
	ID         string
	ConnectURL string
	Extra      map[string]any
}

// Provider creates and releases Sessions. Create may fail with any error;
// Release should not throw in a well-behaved implementation — callers are
// expected to log and swallow release errors rather than propagate them to
// an external caller, since release happens on every terminal path
// including ones that already failed (spec.md I5).
type Provider interface {
	Create(ctx context.Context, config map[string]any) (*Session, error)
	Release(ctx context.Context, id string) error
}

// FakeProvider is an in-memory Provider standing in for the real
// Browserbase session API, the way the teacher's LocalExecutor stands in
// for its Firecracker pool when no VM backend is configured.
type FakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewFakeProvider returns a FakeProvider with no live sessions.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{sessions: make(map[string]*Session)}
}

// Create allocates a deterministic-format id and a synthetic connect URL.
// config is stored on the Session's Extra field verbatim, aside from the id.
func (p *FakeProvider) Create(ctx context.Context, config map[string]any) (*Session, error) {
	id := uuid.New().String()
	s := &Session{
		ID:         id,
		ConnectURL: fmt.Sprintf("ws://127.0.0.1:0/devtools/browser/%s", id),
		Extra:      config,
	}
	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()
	return s, nil
}

// Release removes id from the live-session set. Releasing an unknown or
// already-released id is a no-op, matching the "should not throw" contract.
func (p *FakeProvider) Release(ctx context.Context, id string) error {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
	return nil
}

// Live returns the number of sessions currently held, for test assertions
// verifying exactly-once release (spec.md P4).
func (p *FakeProvider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
