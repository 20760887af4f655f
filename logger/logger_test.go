package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLBeforeInitIsNop(t *testing.T) {
	current.Store(nil)
	assert.NotPanics(t, func() {
		L().Infow("nothing configured", "k", "v")
	})
}

func TestWithAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core).Sugar())
	t.Cleanup(func() { current.Store(nil) })

	With("component", "ledger").Infow("reduced", "transactions", 2)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "reduced", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ledger", fields["component"])
	assert.EqualValues(t, 2, fields["transactions"])
}

func TestInitFallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := Init("loud", "development")
	require.NoError(t, err)
	t.Cleanup(func() { current.Store(nil) })

	assert.True(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
}
