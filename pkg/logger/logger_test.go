package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_WritesKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &ZapLogger{logger: zap.New(core).Sugar()}

	l.Info("bid accepted", "auction_id", "a1", "amount", int64(150))
	l.Warn("publish failed", "auction_id", "a1")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "bid accepted", entries[0].Message)
		assert.Equal(t, "a1", entries[0].ContextMap()["auction_id"])
		assert.Equal(t, int64(150), entries[0].ContextMap()["amount"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	}
}

func TestNewWithLevel_UnknownFallsBackToInfo(t *testing.T) {
	l, ok := NewWithLevel("loud").(*ZapLogger)
	if assert.True(t, ok) {
		assert.False(t, l.logger.Desugar().Core().Enabled(zapcore.DebugLevel))
		assert.True(t, l.logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	}
}

func TestNewNop(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop().Info("ignored", "k", "v")
	})
}
