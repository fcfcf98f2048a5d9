// Package ipc delivers host events to whoever supervises the process: a
// parent reading JSON lines from an inherited descriptor, an MQTT broker, or
// WebSocket clients of the management API.
package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType identifies an event.
type EventType string

// Events emitted by the host.
const (
	EventAPILaunched     EventType = "api_launched"
	EventRunning         EventType = "running"
	EventSetupURI        EventType = "setup_uri"
	EventAccessoryChange EventType = "accessory_change"
	EventInfoLog         EventType = "info_log"
	EventErrorLog        EventType = "error_log"
	EventShutdown        EventType = "shutdown"
)

// Event is one message on the event surface.
type Event struct {
	ID   EventType `json:"id"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// AccessoryChange is the payload of EventAccessoryChange.
type AccessoryChange struct {
	UUID           string `json:"uuid"`
	Accessory      string `json:"accessory"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
	Value          any    `json:"value"`
}

// Sink receives events.
type Sink interface {
	Send(Event) error
	Close() error
}

// Emitter fans events out to sinks.
type Emitter struct {
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

// NewEmitter creates an emitter without sinks.
func NewEmitter(logger *zap.Logger) *Emitter {
	return &Emitter{
		logger: logger.Named("ipc"),
		now:    time.Now,
	}
}

// AddSink registers a sink.
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit delivers an event to every sink. Sink failures are logged at debug
// level so they never loop back through the log forwarder.
func (e *Emitter) Emit(id EventType, data any) {
	ev := Event{ID: id, Data: data, Time: e.now()}

	e.mu.RLock()
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Send(ev); err != nil {
			e.logger.Debug("Failed to deliver event", zap.String("event", string(id)), zap.Error(err))
		}
	}
}

// ForwardLog turns a log entry into an info_log or error_log event.
func (e *Emitter) ForwardLog(entry zapcore.Entry) {
	id := EventInfoLog
	if entry.Level >= zapcore.ErrorLevel {
		id = EventErrorLog
	}
	msg := entry.Message
	if entry.LoggerName != "" {
		msg = fmt.Sprintf("[%s] %s", entry.LoggerName, entry.Message)
	}
	e.Emit(id, msg)
}

// Close closes all sinks.
func (e *Emitter) Close() error {
	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriterSink writes events as JSON lines.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// NewFDSink creates a sink on an inherited file descriptor.
func NewFDSink(fd int) (*WriterSink, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("ipc-fd-%d", fd))
	if f == nil {
		return nil, fmt.Errorf("invalid ipc file descriptor %d", fd)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("ipc file descriptor %d: %w", fd, err)
	}
	return NewWriterSink(f), nil
}

// Send implements Sink.
func (s *WriterSink) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(data, '\n'))
	return err
}

// Close implements Sink. The writer is closed when it is an io.Closer.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
