package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestWithContextAddsKnownKeys(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithIntegration(context.Background(), 42)
	ctx = WithTenant(ctx, "acme")
	ctx = WithHistory(ctx, "h-1")

	WithContext(ctx, base).Info("run started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(42), fields["integration_id"])
	assert.Equal(t, "acme", fields["tenant"])
	assert.Equal(t, "h-1", fields["history_id"])
}

func TestWithContextWithoutValues(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	WithContext(context.Background(), zap.New(core)).Info("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}
