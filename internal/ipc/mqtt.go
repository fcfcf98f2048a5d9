package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttQueueSize         = 256
)

// Errors returned by MQTTSink.Send.
var (
	ErrQueueFull  = errors.New("event queue full")
	ErrSinkClosed = errors.New("sink closed")
)

// mqttPublisher is the part of the paho client the sink uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes events under topic/<event id>. Publishing happens on a
// background goroutine so a slow broker never blocks the caller.
type MQTTSink struct {
	client mqttPublisher
	topic  string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// DialMQTT connects to broker (e.g. "tcp://localhost:1883") and returns a
// sink publishing under topic.
func DialMQTT(broker, clientID, topic string, logger *zap.Logger) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to %s: timeout after %v", broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", broker, err)
	}
	return NewMQTTSink(client, topic, logger), nil
}

// NewMQTTSink wraps a connected client.
func NewMQTTSink(client mqttPublisher, topic string, logger *zap.Logger) *MQTTSink {
	s := &MQTTSink{
		client: client,
		topic:  topic,
		logger: logger.Named("mqtt"),
		queue:  make(chan Event, mqttQueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Send implements Sink.
func (s *MQTTSink) Send(ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued events and disconnects.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Debug("Failed to encode event", zap.Error(err))
			continue
		}
		// Only the running state is retained; late subscribers still see it.
		retained := ev.ID == EventRunning
		token := s.client.Publish(s.topic+"/"+string(ev.ID), 0, retained, payload)
		if !token.WaitTimeout(mqttPublishTimeout) {
			s.logger.Debug("Event publish timed out", zap.String("event", string(ev.ID)))
			continue
		}
		if err := token.Error(); err != nil {
			s.logger.Debug("Event publish failed", zap.String("event", string(ev.ID)), zap.Error(err))
		}
	}
}
