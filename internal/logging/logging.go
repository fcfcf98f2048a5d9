// Package logging builds the process logger.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavour.
type Options struct {
	Debug        bool
	NoTimestamps bool
	JSON         bool
}

// New builds a logger. Console output is used unless JSON is set; hooks see
// every entry that passes the level filter.
func New(opts Options, hooks ...func(zapcore.Entry) error) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("1/2/2006, 3:04:05 PM")
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = !opts.Debug

	if opts.NoTimestamps {
		cfg.EncoderConfig.TimeKey = zapcore.OmitKey
	}

	var buildOpts []zap.Option
	if len(hooks) > 0 {
		buildOpts = append(buildOpts, zap.Hooks(hooks...))
	}
	logger, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Forwarder relays log entries to a receiver attached after the logger was
// built. Debug entries are never relayed.
type Forwarder struct {
	mu       sync.RWMutex
	receiver func(zapcore.Entry)
}

// NewForwarder creates a forwarder without a receiver.
func NewForwarder() *Forwarder {
	return &Forwarder{}
}

// Attach sets the receiver. A nil receiver detaches.
func (f *Forwarder) Attach(receiver func(zapcore.Entry)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiver = receiver
}

// Hook is passed to New.
func (f *Forwarder) Hook(entry zapcore.Entry) error {
	if entry.Level < zapcore.InfoLevel {
		return nil
	}
	f.mu.RLock()
	receiver := f.receiver
	f.mu.RUnlock()
	if receiver != nil {
		receiver(entry)
	}
	return nil
}
