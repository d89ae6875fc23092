package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnharness/devbridge/session"
)

func TestFakeProviderCreateAndRelease(t *testing.T) {
	p := session.NewFakeProvider()

	s, err := p.Create(context.Background(), map[string]any{"region": "local"})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	assert.Contains(t, s.ConnectURL, s.ID)
	assert.Equal(t, 1, p.Live())

	require.NoError(t, p.Release(context.Background(), s.ID))
	assert.Equal(t, 0, p.Live(), "release must drop the session exactly once (spec.md P4)")
}

func TestFakeProviderReleaseUnknownIDIsNoop(t *testing.T) {
	p := session.NewFakeProvider()
	assert.NoError(t, p.Release(context.Background(), "never-created"))
	assert.Equal(t, 0, p.Live())
}

func TestFakeProviderDoubleReleaseIsSafe(t *testing.T) {
	p := session.NewFakeProvider()
	s, err := p.Create(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, p.Release(context.Background(), s.ID))
	require.NoError(t, p.Release(context.Background(), s.ID))
	assert.Equal(t, 0, p.Live())
}

func TestFakeProviderTracksMultipleConcurrentSessions(t *testing.T) {
	p := session.NewFakeProvider()
	a, err := p.Create(context.Background(), nil)
	require.NoError(t, err)
	b, err := p.Create(context.Background(), nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, p.Live())

	require.NoError(t, p.Release(context.Background(), a.ID))
	assert.Equal(t, 1, p.Live())
}
