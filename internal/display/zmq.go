package display

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// frame is the wire format pushed to the display daemon.
type frame struct {
	Lines []string `json:"lines"`
}

// ZMQDriver ships frames to the local display daemon over a ZeroMQ PUSH
// socket. The daemon owns cursor positioning and the character protocol.
type ZMQDriver struct {
	endpoint string
	log      *zap.SugaredLogger

	mu     sync.Mutex
	sock   zmq4.Socket
	cancel context.CancelFunc
}

// NewZMQDriver connects to the daemon endpoint (e.g. ipc:///tmp/field_display).
func NewZMQDriver(endpoint string, log *zap.SugaredLogger) (*ZMQDriver, error) {
	ctx, cancel := context.WithCancel(context.Background())

	sock := zmq4.NewPush(ctx)
	if err := sock.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect display socket: %w", err)
	}

	return &ZMQDriver{
		endpoint: endpoint,
		log:      log,
		sock:     sock,
		cancel:   cancel,
	}, nil
}

// WriteLines pushes one frame. PUSH queues locally while the daemon is away,
// so the call does not block the scheduler.
func (d *ZMQDriver) WriteLines(lines []string) error {
	body, err := json.Marshal(frame{Lines: lines})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sock.Send(zmq4.NewMsg(body)); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Close tears down the socket.
func (d *ZMQDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
	return d.sock.Close()
}

// FakeDriver records frames for tests.
type FakeDriver struct {
	mu       sync.Mutex
	Frames   [][]string
	WriteErr error
	Closed   bool
}

func (f *FakeDriver) WriteLines(lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	copied := make([]string, len(lines))
	copy(copied, lines)
	f.Frames = append(f.Frames, copied)
	return nil
}

func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Last returns the most recent frame, or nil.
func (f *FakeDriver) Last() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Frames) == 0 {
		return nil
	}
	return f.Frames[len(f.Frames)-1]
}
