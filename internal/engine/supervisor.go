package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/task"
	"github.com/agrinet/field-controller/internal/watchdog"
)

// SupervisorConfig tunes the scheduler and its recovery policy.
type SupervisorConfig struct {
	// DisplayTimeout is how long an error stays continuously active before
	// the supervisor attempts its type-specific remedy (and before the
	// display switches to the error view).
	DisplayTimeout time.Duration

	// UplinkBackoff delays the next uplink start after a remote-service
	// remedy.
	UplinkBackoff time.Duration
}

// slot is the supervisor's bookkeeping for one managed task.
type slot struct {
	runner    task.Runner
	owns      []task.Code
	state     task.State
	lastStart time.Time
	started   bool
	notBefore time.Time
	lastCode  task.Code
}

func (s *slot) ownsCode(c task.Code) bool {
	for _, code := range s.owns {
		if code == c {
			return true
		}
	}
	return false
}

// TaskInfo is a read-only view of one task's scheduling state.
type TaskInfo struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	LastCode  string    `json:"lastCode"`
	LastStart time.Time `json:"lastStart"`
}

// Supervisor drives every managed task once per tick without blocking and
// owns system-wide error recovery. Tasks are stepped in registration order,
// which fixes the in-tick priority: consumers always see the freshest
// completed snapshot, never a partial one.
type Supervisor struct {
	cfg   SupervisorConfig
	guard watchdog.Guard
	log   *zap.SugaredLogger

	slots []*slot

	// reconnect is the remedy for connectivity and time-sync errors.
	reconnect func()

	mu        sync.RWMutex
	activeErr task.Code
	errSince  time.Time
	remedied  bool
}

// NewSupervisor creates a supervisor strobing the given guard every tick.
func NewSupervisor(cfg SupervisorConfig, guard watchdog.Guard, reconnect func(), log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		guard:     guard,
		reconnect: reconnect,
		log:       log,
	}
}

// Add registers a task. Registration order is step priority. owns lists the
// error codes this task is responsible for clearing: when the task next
// completes successfully, an active error it owns is cleared.
func (s *Supervisor) Add(r task.Runner, owns ...task.Code) {
	s.slots = append(s.slots, &slot{runner: r, owns: owns})
}

// Tick advances every due task by one step and runs the recovery policy.
// Called from a single goroutine at a fixed cadence; the mutex only shields
// the metadata snapshots read by the diagnostics surface.
func (s *Supervisor) Tick(now time.Time) {
	s.guard.Strobe(now)

	for _, sl := range s.slots {
		switch sl.state {
		case task.StateIdle, task.StateCompleted, task.StateFailed:
			if now.Before(sl.notBefore) {
				continue
			}
			if sl.started && now.Sub(sl.lastStart) < sl.runner.Cadence() {
				continue
			}
			s.mu.Lock()
			sl.state = task.StateRunning
			sl.lastStart = now
			sl.started = true
			s.mu.Unlock()
			s.step(sl, now)
		case task.StateRunning:
			s.step(sl, now)
		}
	}

	s.recover(now)
}

// step invokes the task and consumes a finished outcome. The slot keeps its
// terminal state until the next cadence starts a fresh cycle, so diagnostic
// snapshots can observe how the last run ended. A failed task is always
// retried on its next cadence; no outcome needs operator action.
func (s *Supervisor) step(sl *slot, now time.Time) {
	out := sl.runner.Step(now)
	if !out.Done {
		return
	}

	s.mu.Lock()
	sl.lastCode = out.Code
	if out.Code == task.CodeNone {
		sl.state = task.StateCompleted
		s.clearOwnedLocked(sl)
	} else {
		sl.state = task.StateFailed
		s.reportLocked(out.Code, now)
	}
	s.mu.Unlock()
}

// Report records an error. A new error is surfaced only if it outranks the
// one already active; re-reports of the active error keep the original
// activation time so the recovery timeout measures continuous activity.
func (s *Supervisor) Report(code task.Code, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportLocked(code, now)
}

func (s *Supervisor) reportLocked(code task.Code, now time.Time) {
	if code == s.activeErr {
		return
	}
	if s.activeErr != task.CodeNone && !code.Outranks(s.activeErr) {
		return
	}
	s.activeErr = code
	s.errSince = now
	s.remedied = false
	s.log.Warnw("error active", "code", code.String())
}

// ClearIf clears the active error when it matches code. Used for errors
// owned by external state (time sync) rather than a task outcome.
func (s *Supervisor) ClearIf(code task.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeErr == code {
		s.log.Infow("error cleared", "code", code.String())
		s.activeErr = task.CodeNone
		s.remedied = false
	}
}

// clearOwnedLocked clears the active error if its remedy was this task's job.
func (s *Supervisor) clearOwnedLocked(sl *slot) {
	if s.activeErr != task.CodeNone && sl.ownsCode(s.activeErr) {
		s.log.Infow("error cleared", "code", s.activeErr.String(), "task", sl.runner.Name())
		s.activeErr = task.CodeNone
		s.remedied = false
	}
}

// recover applies the type-specific remedy once an error has been active
// past the display timeout. Remedies are one-shot per error episode; the
// error clears only when the responsible task next succeeds.
func (s *Supervisor) recover(now time.Time) {
	s.mu.Lock()
	code := s.activeErr
	since := s.errSince
	remedied := s.remedied
	s.mu.Unlock()

	if code == task.CodeNone || remedied || now.Sub(since) < s.cfg.DisplayTimeout {
		return
	}

	switch code {
	case task.CodeConnectivity, task.CodeTimeSync:
		s.log.Infow("recovery: requesting reassociation", "code", code.String())
		if s.reconnect != nil {
			s.reconnect()
		}
	case task.CodeRemoteService:
		s.log.Infow("recovery: backing off uplink", "backoff", s.cfg.UplinkBackoff.String())
		for _, sl := range s.slots {
			if sl.ownsCode(task.CodeRemoteService) {
				sl.notBefore = now.Add(s.cfg.UplinkBackoff)
			}
		}
	default:
		// Sensor and actuator errors heal through their own cadence.
	}

	s.mu.Lock()
	s.remedied = true
	s.mu.Unlock()
}

// ActiveError returns the surfaced error and how long it has been active.
func (s *Supervisor) ActiveError(now time.Time) (task.Code, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeErr == task.CodeNone {
		return task.CodeNone, 0
	}
	return s.activeErr, now.Sub(s.errSince)
}

// Tasks returns a snapshot of every task's scheduling state.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]TaskInfo, 0, len(s.slots))
	for _, sl := range s.slots {
		infos = append(infos, TaskInfo{
			Name:      sl.runner.Name(),
			State:     sl.state.String(),
			LastCode:  sl.lastCode.String(),
			LastStart: sl.lastStart,
		})
	}
	return infos
}
