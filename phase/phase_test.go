package phase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fnharness/devbridge/phase"
)

func TestNewSelectorDefaults(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	t.Setenv("BB_FUNCTIONS_PHASE", "")

	s := phase.NewSelector("127.0.0.1:14113")
	assert.Equal(t, phase.Local, s.Environment())
	assert.Equal(t, "127.0.0.1:14113", s.RuntimeAPI())
	assert.Equal(t, phase.Runtime, s.Phase())
	assert.False(t, s.IsIntrospect())
}

func TestNewSelectorReadsEnv(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "10.0.0.5:9001")
	t.Setenv("BB_FUNCTIONS_PHASE", "introspect")

	s := phase.NewSelector("127.0.0.1:14113")
	assert.Equal(t, phase.Production, s.Environment())
	assert.Equal(t, "10.0.0.5:9001", s.RuntimeAPI())
	assert.True(t, s.IsIntrospect())
}

func TestNewSelectorSnapshotsAgainstLaterEnvChanges(t *testing.T) {
	t.Setenv("NODE_ENV", "local")
	s := phase.NewSelector("127.0.0.1:14113")

	t.Setenv("NODE_ENV", "production")
	assert.Equal(t, phase.Local, s.Environment(), "a Selector must not observe later environment changes")
}

func TestFatalOnSystemError(t *testing.T) {
	assert.False(t, phase.Local.FatalOnSystemError())
	assert.True(t, phase.Production.FatalOnSystemError())
	assert.True(t, phase.Staging.FatalOnSystemError(), "staging is treated as production-like")
}
