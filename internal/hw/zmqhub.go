package hw

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// HubConfig holds the connection to the peripheral daemon. The daemon owns
// the pins and the I2C bus; this process talks to it over a REQ socket.
type HubConfig struct {
	CommandURL string
	Timeout    time.Duration
}

// DefaultHubConfig returns the stock daemon endpoint.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		CommandURL: "ipc:///tmp/fieldhub_command",
		Timeout:    500 * time.Millisecond,
	}
}

// Hub is the production hardware backend. It implements ChannelReader,
// CombinedProbe and Actuator against the peripheral daemon.
type Hub struct {
	cfg  HubConfig
	mu   sync.Mutex
	sock zmq4.Socket
}

type hubRequest struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel,omitempty"`
	On      bool   `json:"on,omitempty"`
}

type hubResponse struct {
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	Value       int     `json:"value,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Humidity    float64 `json:"humidity,omitempty"`
}

// NewHub connects to the peripheral daemon.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	sock := zmq4.NewReq(context.Background())
	if err := sock.Dial(cfg.CommandURL); err != nil {
		return nil, fmt.Errorf("failed to connect to peripheral daemon: %w", err)
	}
	return &Hub{cfg: cfg, sock: sock}, nil
}

// roundtrip sends one request and decodes the reply. The REQ socket is
// strictly lockstep so calls are serialized.
func (h *Hub) roundtrip(req hubRequest) (*hubResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := h.sock.Send(zmq4.NewMsg(data)); err != nil {
		return nil, fmt.Errorf("failed to send %s command: %w", req.Cmd, err)
	}

	msg, err := h.sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive %s reply: %w", req.Cmd, err)
	}

	var resp hubResponse
	if err := json.Unmarshal(msg.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("malformed %s reply: %w", req.Cmd, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("daemon rejected %s: %s", req.Cmd, resp.Error)
	}
	return &resp, nil
}

// ReadChannel reads one analog channel.
func (h *Hub) ReadChannel(ch Channel) (int, error) {
	resp, err := h.roundtrip(hubRequest{Cmd: "read", Channel: string(ch)})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Read reads the temperature and humidity part.
func (h *Hub) Read() (float64, float64, error) {
	resp, err := h.roundtrip(hubRequest{Cmd: "probe"})
	if err != nil {
		return 0, 0, err
	}
	return resp.Temperature, resp.Humidity, nil
}

// Set drives the irrigation valve.
func (h *Hub) Set(on bool) error {
	_, err := h.roundtrip(hubRequest{Cmd: "valve", On: on})
	return err
}

// Close drives the valve low, then releases the socket.
func (h *Hub) Close() error {
	if err := h.Set(false); err != nil {
		h.sock.Close()
		return err
	}
	return h.sock.Close()
}
