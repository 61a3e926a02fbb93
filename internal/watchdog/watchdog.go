// Package watchdog implements the last-resort guard against a scheduler that
// stops yielding. The supervisor must strobe the guard every tick; a missed
// budget forces a restart, which is the only system-fatal path.
package watchdog

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Guard is strobed by the scheduler loop.
type Guard interface {
	// Strobe records liveness. Must be called at least once per budget.
	Strobe(now time.Time)

	// Expired reports whether the budget has been missed.
	Expired(now time.Time) bool
}

// Soft is a software guard that invokes a restart function on expiry. On
// hardware builds the platform watchdog takes this role; the process-level
// behaviour is identical: restart, not crash report.
type Soft struct {
	timeout  time.Duration
	onExpire func()
	log      *zap.SugaredLogger

	mu   sync.Mutex
	last time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSoft creates a guard with the given budget. onExpire is invoked exactly
// once if the budget is missed.
func NewSoft(timeout time.Duration, onExpire func(), log *zap.SugaredLogger) *Soft {
	return &Soft{
		timeout:  timeout,
		onExpire: onExpire,
		log:      log,
		last:     time.Now(),
		stopChan: make(chan struct{}),
	}
}

func (s *Soft) Strobe(now time.Time) {
	s.mu.Lock()
	s.last = now
	s.mu.Unlock()
}

func (s *Soft) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.last) > s.timeout
}

// Start launches the expiry monitor.
func (s *Soft) Start() {
	s.wg.Add(1)
	go s.monitor()
}

// Stop terminates the monitor without firing.
func (s *Soft) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Soft) monitor() {
	defer s.wg.Done()

	interval := s.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			if s.Expired(now) {
				s.log.Errorw("watchdog expired, forcing restart",
					"budget", s.timeout.String())
				s.onExpire()
				return
			}
		}
	}
}

// Fake is a Guard for tests that records strobes.
type Fake struct {
	mu      sync.Mutex
	Strobes []time.Time
	Timeout time.Duration
}

func (f *Fake) Strobe(now time.Time) {
	f.mu.Lock()
	f.Strobes = append(f.Strobes, now)
	f.mu.Unlock()
}

func (f *Fake) Expired(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Strobes) == 0 || f.Timeout <= 0 {
		return false
	}
	return now.Sub(f.Strobes[len(f.Strobes)-1]) > f.Timeout
}

// StrobeCount returns the number of strobes recorded.
func (f *Fake) StrobeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Strobes)
}
