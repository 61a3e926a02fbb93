package uplink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/conn"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/task"
)

// Sender transmits one payload.
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// TaskConfig tunes the uplink task.
type TaskConfig struct {
	Cadence time.Duration

	// Timeout is the hard deadline for one transmission. Exceeding it is a
	// remote-service failure, never a hang.
	Timeout time.Duration

	// FailureLimit is the consecutive-failure count that triggers a fresh
	// association attempt before the next transmission.
	FailureLimit int
}

// Task is the telemetry uplink task. The POST runs in a goroutine started by
// a step and is polled without blocking on later ticks, so the scheduler is
// never held across network latency.
type Task struct {
	cfg    TaskConfig
	sender Sender
	net    conn.Manager
	latest func() sensors.Reading
	log    *zap.SugaredLogger

	inflight chan error
	cancel   context.CancelFunc
	deadline time.Time
	pending  Payload

	failures int
	onResult func(ok bool, p Payload)
}

// NewTask creates the uplink task. latest supplies the snapshot to send.
func NewTask(cfg TaskConfig, sender Sender, net conn.Manager, latest func() sensors.Reading, log *zap.SugaredLogger) *Task {
	return &Task{
		cfg:    cfg,
		sender: sender,
		net:    net,
		latest: latest,
		log:    log,
	}
}

// OnResult registers a callback invoked after every finished transmission.
func (t *Task) OnResult(fn func(ok bool, p Payload)) { t.onResult = fn }

// ConsecutiveFailures returns the current failure streak.
func (t *Task) ConsecutiveFailures() int { return t.failures }

func (t *Task) Name() string           { return "uplink" }
func (t *Task) Cadence() time.Duration { return t.cfg.Cadence }

// Step starts or polls one transmission.
func (t *Task) Step(now time.Time) task.Outcome {
	if t.inflight == nil {
		return t.begin(now)
	}
	return t.poll(now)
}

func (t *Task) begin(now time.Time) task.Outcome {
	if !t.net.IsConnected() {
		// Do not even attempt transmission without association.
		return task.Fail(task.CodeConnectivity)
	}

	r := t.latest()
	if !r.Valid {
		// Nothing trustworthy to report yet; skip this cycle.
		return task.Complete()
	}

	payload := PayloadFrom(r)
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout)
	ch := make(chan error, 1)
	go func() {
		ch <- t.sender.Send(ctx, payload)
	}()

	t.inflight = ch
	t.cancel = cancel
	t.deadline = now.Add(t.cfg.Timeout)
	t.pending = payload
	return task.Continue()
}

func (t *Task) poll(now time.Time) task.Outcome {
	select {
	case err := <-t.inflight:
		t.clearInflight()
		if err != nil {
			return t.fail(err)
		}
		t.failures = 0
		if t.onResult != nil {
			t.onResult(true, t.pending)
		}
		return task.Complete()
	default:
	}

	if now.After(t.deadline) {
		t.clearInflight()
		return t.fail(context.DeadlineExceeded)
	}
	return task.Continue()
}

func (t *Task) fail(err error) task.Outcome {
	t.failures++
	t.log.Warnw("uplink failed", "consecutive", t.failures, "error", err)
	if t.onResult != nil {
		t.onResult(false, t.pending)
	}
	if t.failures >= t.cfg.FailureLimit {
		// The link may be associated but dead end to end; ask for a fresh
		// association before the next attempt.
		t.net.RequestReassociate()
		t.failures = 0
	}
	return task.Fail(task.CodeRemoteService)
}

func (t *Task) clearInflight() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.inflight = nil
}
