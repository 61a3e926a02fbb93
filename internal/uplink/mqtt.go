package uplink

import (
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Mirror publishes accepted readings to a local broker as a secondary,
// best-effort telemetry channel. Never blocks the caller.
type Mirror interface {
	Publish(p Payload)
	Close() error
}

// MQTTConfig holds mirror configuration.
type MQTTConfig struct {
	Broker     string
	Topic      string
	ClientID   string
	Username   string
	Password   string
	BufferSize int
}

// PahoMirror is the real mirror. Messages produced while disconnected are
// held in a ring buffer and replayed on reconnect, oldest dropped first.
type PahoMirror struct {
	client paho.Client
	topic  string
	log    *zap.SugaredLogger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewPahoMirror connects to the broker in the background and returns
// immediately; the mirror buffers until the connection is up.
func NewPahoMirror(cfg MQTTConfig, log *zap.SugaredLogger) *PahoMirror {
	m := &PahoMirror{
		topic: cfg.Topic,
		log:   log,
		buf:   newRingBuffer(cfg.BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			m.replay()
		})

	m.client = paho.NewClient(opts)
	// Connect asynchronously; AutoReconnect owns the retry policy.
	m.client.Connect()
	return m
}

// Publish queues or sends one payload without waiting for the broker.
func (m *PahoMirror) Publish(p Payload) {
	if !m.client.IsConnected() {
		m.mu.Lock()
		m.buf.push(p)
		m.mu.Unlock()
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		m.log.Warnw("mqtt mirror encode failed", "error", err)
		return
	}
	// QoS 0, fire and forget; the HTTP uplink is the primary channel.
	m.client.Publish(m.topic, 0, false, body)
}

// replay drains the offline buffer after a reconnect.
func (m *PahoMirror) replay() {
	m.mu.Lock()
	pending := m.buf.drainAll()
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	m.log.Infow("mqtt mirror reconnected, replaying buffered readings",
		"count", len(pending))
	for _, p := range pending {
		body, err := json.Marshal(p)
		if err != nil {
			continue
		}
		m.client.Publish(m.topic, 0, false, body)
	}
}

// Close disconnects from the broker.
func (m *PahoMirror) Close() error {
	m.client.Disconnect(250)
	return nil
}

// NopMirror discards everything; used when no broker is configured.
type NopMirror struct{}

func (NopMirror) Publish(Payload) {}
func (NopMirror) Close() error    { return nil }

// FakeMirror records published payloads for tests.
type FakeMirror struct {
	mu        sync.Mutex
	Published []Payload
}

func (f *FakeMirror) Publish(p Payload) {
	f.mu.Lock()
	f.Published = append(f.Published, p)
	f.mu.Unlock()
}

func (f *FakeMirror) Close() error { return nil }

// Count returns the number of published payloads.
func (f *FakeMirror) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published)
}
