package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapWithAttachesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := &ZapLogger{log: zap.New(core)}

	bound := base.With(map[string]any{"resource_id": "article-1"})
	bound.Info("payment verified", map[string]any{"amount": 250000})

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	require.Equal(t, "article-1", fields["resource_id"])
	require.EqualValues(t, 250000, fields["amount"])

	// The base logger is unaffected by the bound copy.
	base.Info("plain", nil)
	require.Empty(t, logs.All()[1].ContextMap())
}

func TestNoopWith(t *testing.T) {
	var l Logger = NoopLogger{}
	require.NotNil(t, l.With(map[string]any{"k": "v"}))
}
