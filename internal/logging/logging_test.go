package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want zapcore.Level
	}{
		{"console info", Options{}, zapcore.InfoLevel},
		{"console debug", Options{Debug: true, NoTimestamps: true}, zapcore.DebugLevel},
		{"json", Options{JSON: true}, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}

func TestForwarder(t *testing.T) {
	fwd := NewForwarder()
	logger, err := New(Options{Debug: true}, fwd.Hook)
	require.NoError(t, err)

	logger.Info("dropped, nothing attached")

	var got []zapcore.Entry
	fwd.Attach(func(e zapcore.Entry) { got = append(got, e) })

	logger.Debug("not forwarded")
	logger.Info("hello")
	logger.Error("boom")

	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, got[1].Level)

	fwd.Attach(nil)
	logger.Warn("detached")
	assert.Len(t, got, 2)
}
