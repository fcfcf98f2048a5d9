package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"homebridge/internal/ipc"

	"go.uber.org/zap"
)

// Teardown persists the cache, unpublishes the bridge and the external
// accessories, emits the shutdown event and runs the shutdown hooks. The
// whole sequence is bounded by the shutdown grace period; whatever has not
// finished by then is abandoned. Only the first call does anything.
func (s *Server) Teardown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnpublishing || s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateUnpublishing
	if s.discoveryTimer != nil {
		s.discoveryTimer.Stop()
		s.discoveryTimer = nil
	}
	s.mu.Unlock()

	s.logger.Info("Shutting down")

	var expired <-chan time.Time
	if s.opts.ShutdownGrace > 0 {
		expired = s.clock.After(s.opts.ShutdownGrace)
	}

	if s.await(ctx, expired, func() { s.unpublishAll(ctx) }) {
		s.emitter.Emit(ipc.EventShutdown, nil)
		if !s.await(ctx, expired, s.plugins.EmitShutdown) {
			s.logger.Warn("Shutdown hooks did not finish within the grace period",
				zap.Duration("grace", s.opts.ShutdownGrace))
		}
	} else {
		s.logger.Warn("Unpublishing did not finish within the grace period, skipping shutdown hooks",
			zap.Duration("grace", s.opts.ShutdownGrace))
		s.emitter.Emit(ipc.EventShutdown, nil)
	}

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	close(s.terminated)

	s.logger.Info("Shutdown complete")
	return nil
}

// await runs fn in its own goroutine and reports whether it returned before
// expired fired or ctx was done. A nil expired waits on ctx only.
func (s *Server) await(ctx context.Context, expired <-chan time.Time, fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Server) unpublishAll(ctx context.Context) {
	s.saveCache(ctx)

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	published := s.bridgePublished
	externals := s.externals
	s.bridgePublished = false
	s.externals = nil
	s.mu.Unlock()

	if published {
		if err := s.publisher.Unpublish(s.bridge); err != nil {
			s.logger.Warn("Failed to unpublish bridge", zap.Error(err))
		}
	}
	for _, ext := range externals {
		if err := s.publisher.Unpublish(ext.accessory.Accessory); err != nil {
			s.logger.Warn("Failed to unpublish external accessory",
				zap.String("accessory", ext.accessory.DisplayName),
				zap.Error(err))
		}
	}
}

// HandleSignals tears the server down on the first signal received and
// returns once teardown has finished or ctx is done. Further signals while
// teardown runs are ignored.
func (s *Server) HandleSignals(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.terminated:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			s.logger.Info("Got signal, shutting down", zap.String("signal", sig.String()))
			go func() {
				_ = s.Teardown(ctx)
			}()
		}
	}
}

// fault handles a panic or error escaping plugin code or the publisher. The
// process is asked to shut down so teardown runs.
func (s *Server) fault(where string, recovered any) {
	s.logger.Error("Uncaught error, shutting down",
		zap.String("where", where),
		zap.Any("error", recovered),
		zap.Stack("stack"))
	s.faultOnce.Do(s.terminate)
}

func signalSelf() {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(syscall.SIGTERM)
}

func printSetupBanner(w io.Writer, pin, uri string) {
	line := strings.Repeat("─", len(pin)+2)
	fmt.Fprintln(w, "Setup payload:")
	fmt.Fprintln(w, uri)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Enter this code with your HomeKit app to pair with the bridge:")
	fmt.Fprintf(w, "    ┌%s┐\n", line)
	fmt.Fprintf(w, "    │ %s │\n", pin)
	fmt.Fprintf(w, "    └%s┘\n", line)
	fmt.Fprintln(w)
}
