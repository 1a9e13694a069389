package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", "quiet", ""} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		require.NotNil(t, l.SugaredLogger)
	}
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("contract", "aggregator").Warn("sweep failed", "token", "0xabc")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "sweep failed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "aggregator", fields["contract"])
	assert.Equal(t, "0xabc", fields["token"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
