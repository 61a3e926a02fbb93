// Package conn maintains wireless association state and a synchronized wall
// clock offset. Association and NTP internals belong to the platform; this
// layer only tracks and exposes their state to the tasks.
package conn

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager is the connectivity surface consumed by the tasks.
type Manager interface {
	// IsConnected reports whether the link is currently associated.
	IsConnected() bool

	// TimeSynced reports whether a wall-clock offset is established.
	TimeSynced() bool

	// WallClock returns epoch seconds and whether they are network-synced.
	WallClock() (int64, bool)

	// Uptime returns time since boot.
	Uptime() time.Duration

	// RequestReassociate asks for a fresh association attempt before the
	// next probe. Non-blocking.
	RequestReassociate()
}

// NetConfig tunes the real manager.
type NetConfig struct {
	// ProbeAddr is dialed to verify the link end to end.
	ProbeAddr     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// TimeURL is asked for a Date header to derive the wall-clock offset.
	// Empty disables time sync.
	TimeURL          string
	TimeSyncInterval time.Duration
}

// NetManager probes the link in the background and keeps a wall-clock
// offset. All accessors are non-blocking snapshot reads.
type NetManager struct {
	cfg  NetConfig
	log  *zap.SugaredLogger
	boot time.Time

	mu        sync.RWMutex
	connected bool
	synced    bool
	offset    time.Duration
	lastSync  time.Time

	reassoc  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewNetManager creates a manager; Start begins probing.
func NewNetManager(cfg NetConfig, log *zap.SugaredLogger) *NetManager {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &NetManager{
		cfg:      cfg,
		log:      log,
		boot:     time.Now(),
		reassoc:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the background probe loop.
func (m *NetManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop terminates the probe loop.
func (m *NetManager) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

func (m *NetManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *NetManager) TimeSynced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

func (m *NetManager) WallClock() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.synced {
		return int64(time.Since(m.boot) / time.Second), false
	}
	return time.Now().Add(m.offset).Unix(), true
}

func (m *NetManager) Uptime() time.Duration {
	return time.Since(m.boot)
}

func (m *NetManager) RequestReassociate() {
	select {
	case m.reassoc <- struct{}{}:
	default:
	}
}

func (m *NetManager) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	m.probe()
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-m.reassoc:
			m.log.Infow("reassociation requested, probing link")
			m.probe()
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *NetManager) probe() {
	conn, err := net.DialTimeout("tcp", m.cfg.ProbeAddr, m.cfg.ProbeTimeout)
	up := err == nil
	if up {
		conn.Close()
	}

	m.mu.Lock()
	wasUp := m.connected
	m.connected = up
	needSync := up && m.cfg.TimeURL != "" &&
		(!m.synced || time.Since(m.lastSync) >= m.cfg.TimeSyncInterval)
	m.mu.Unlock()

	if up != wasUp {
		m.log.Infow("link state changed", "connected", up)
	}
	if needSync {
		m.syncTime()
	}
}

// syncTime derives the wall-clock offset from the ingestion host's Date
// header. Coarse (one second granularity) but sufficient for telemetry
// timestamps.
func (m *NetManager) syncTime() {
	client := &http.Client{Timeout: m.cfg.ProbeTimeout}
	resp, err := client.Head(m.cfg.TimeURL)
	if err != nil {
		m.log.Warnw("time sync failed", "error", err)
		return
	}
	resp.Body.Close()

	remote, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		m.log.Warnw("time sync failed, bad Date header", "error", err)
		return
	}

	m.mu.Lock()
	m.offset = remote.Sub(time.Now())
	m.synced = true
	m.lastSync = time.Now()
	m.mu.Unlock()
	m.log.Infow("wall clock synced", "offset", m.offset.String())
}

// Fake is a scriptable Manager for tests.
type Fake struct {
	mu        sync.Mutex
	Connected bool
	Synced    bool
	Epoch     int64
	UptimeDur time.Duration
	Reassocs  int
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *Fake) TimeSynced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Synced
}

func (f *Fake) WallClock() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Synced {
		return int64(f.UptimeDur / time.Second), false
	}
	return f.Epoch, true
}

func (f *Fake) Uptime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.UptimeDur
}

func (f *Fake) RequestReassociate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reassocs++
}

// ReassociateCount returns how many reassociations were requested.
func (f *Fake) ReassociateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reassocs
}
