package uplink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/conn"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/task"
)

// blockingSender holds every Send until released, so tests control exactly
// when the background transmission finishes.
type blockingSender struct {
	mu      sync.Mutex
	release chan error
	sent    []Payload
	calls   int
}

func newBlockingSender() *blockingSender {
	return &blockingSender{release: make(chan error, 8)}
}

func (s *blockingSender) Send(ctx context.Context, p Payload) error {
	s.mu.Lock()
	s.sent = append(s.sent, p)
	s.calls++
	s.mu.Unlock()

	select {
	case err := <-s.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func validReading() sensors.Reading {
	return sensors.Reading{
		Temperature:  22.5,
		Humidity:     55,
		SoilMoisture: 180,
		Timestamp:    1700000000,
		TimeSynced:   true,
		Valid:        true,
	}
}

func testTaskConfig() TaskConfig {
	return TaskConfig{
		Cadence:      time.Second,
		Timeout:      8 * time.Second,
		FailureLimit: 3,
	}
}

func setupTask(t *testing.T, r sensors.Reading) (*Task, *blockingSender, *conn.Fake) {
	t.Helper()
	sender := newBlockingSender()
	net := &conn.Fake{Connected: true, Synced: true}
	tk := NewTask(testTaskConfig(), sender, net, func() sensors.Reading { return r }, zap.NewNop().Sugar())
	return tk, sender, net
}

// waitCalls blocks until the sender goroutine has picked up n transmissions.
func waitCalls(t *testing.T, s *blockingSender, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Calls() < n {
		if time.Now().After(deadline) {
			t.Fatalf("sender never reached %d calls", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUplinkSkipsWithoutConnection(t *testing.T) {
	tk, sender, net := setupTask(t, validReading())
	net.Connected = false

	out := tk.Step(time.Now())
	if !out.Done || out.Code != task.CodeConnectivity {
		t.Fatalf("Step = %+v, want connectivity failure", out)
	}
	if sender.Calls() != 0 {
		t.Error("transmission attempted without association")
	}
}

func TestUplinkSkipsInvalidReading(t *testing.T) {
	r := validReading()
	r.Valid = false
	tk, sender, _ := setupTask(t, r)

	out := tk.Step(time.Now())
	if !out.Done || out.Code != task.CodeNone {
		t.Fatalf("Step = %+v, want clean skip", out)
	}
	if sender.Calls() != 0 {
		t.Error("invalid reading was transmitted")
	}
}

func TestUplinkSuccessAcrossTicks(t *testing.T) {
	tk, sender, _ := setupTask(t, validReading())

	var results []bool
	tk.OnResult(func(ok bool, p Payload) { results = append(results, ok) })

	start := time.Now()
	if out := tk.Step(start); out.Done {
		t.Fatalf("Step = %+v, want in-flight continuation", out)
	}
	waitCalls(t, sender, 1)

	// Still in flight: polls must not block or finish.
	if out := tk.Step(start.Add(time.Second)); out.Done {
		t.Fatalf("poll finished while transmission pending: %+v", out)
	}

	sender.release <- nil
	deadline := time.Now().Add(2 * time.Second)
	var out task.Outcome
	for !out.Done {
		if time.Now().After(deadline) {
			t.Fatal("transmission result never consumed")
		}
		out = tk.Step(start.Add(2 * time.Second))
	}
	if out.Code != task.CodeNone {
		t.Fatalf("Step = %+v, want success", out)
	}
	if len(results) != 1 || !results[0] {
		t.Fatalf("results = %v, want one success", results)
	}
	if tk.ConsecutiveFailures() != 0 {
		t.Errorf("failures = %d, want 0", tk.ConsecutiveFailures())
	}
}

func TestUplinkDeadlineFailsCycle(t *testing.T) {
	tk, sender, _ := setupTask(t, validReading())

	start := time.Now()
	if out := tk.Step(start); out.Done {
		t.Fatal("want in-flight continuation")
	}
	waitCalls(t, sender, 1)

	out := tk.Step(start.Add(9 * time.Second))
	if !out.Done || out.Code != task.CodeRemoteService {
		t.Fatalf("Step = %+v, want remote-service failure past deadline", out)
	}
	if tk.ConsecutiveFailures() != 1 {
		t.Errorf("failures = %d, want 1", tk.ConsecutiveFailures())
	}
}

func TestUplinkFailureLimitTriggersReassociation(t *testing.T) {
	tk, sender, net := setupTask(t, validReading())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if out := tk.Step(start); out.Done {
			t.Fatalf("attempt %d: want in-flight continuation", i)
		}
		waitCalls(t, sender, i+1)
		sender.release <- errors.New("bad gateway")

		deadline := time.Now().Add(2 * time.Second)
		var out task.Outcome
		for !out.Done {
			if time.Now().After(deadline) {
				t.Fatalf("attempt %d never finished", i)
			}
			out = tk.Step(start.Add(time.Second))
		}
		if out.Code != task.CodeRemoteService {
			t.Fatalf("attempt %d: Code = %s, want remote_service", i, out.Code)
		}
	}

	if net.Reassocs != 1 {
		t.Errorf("reassociations = %d, want 1 after the failure streak", net.Reassocs)
	}
	if tk.ConsecutiveFailures() != 0 {
		t.Errorf("failures = %d, want reset after reassociation", tk.ConsecutiveFailures())
	}
}

func TestPayloadFromReading(t *testing.T) {
	p := PayloadFrom(validReading())
	if p.Timestamp != "2023-11-14 22:13:20" {
		t.Errorf("Timestamp = %q, want formatted epoch", p.Timestamp)
	}
	if p.Temperature != 22.5 || p.SoilMoisture != 180 {
		t.Errorf("payload fields wrong: %+v", p)
	}
}
