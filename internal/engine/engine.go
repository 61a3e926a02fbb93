// Package engine assembles the managed tasks under the cooperative
// supervisor and owns the controller's run loop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/config"
	"github.com/agrinet/field-controller/internal/conn"
	"github.com/agrinet/field-controller/internal/display"
	"github.com/agrinet/field-controller/internal/hw"
	"github.com/agrinet/field-controller/internal/irrigation"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/storage"
	"github.com/agrinet/field-controller/internal/task"
	"github.com/agrinet/field-controller/internal/uplink"
	"github.com/agrinet/field-controller/internal/watchdog"
)

// timeSyncGrace is how long after boot an unsynced clock is tolerated
// before it is surfaced as an error.
const timeSyncGrace = 30 * time.Second

// Deps are the injectable collaborators. A nil network, mirror, guard or
// database is built from configuration and closed by the engine on shutdown;
// everything supplied here, hardware and display included, remains the
// caller's to close.
type Deps struct {
	Probe    hw.CombinedProbe
	Channels hw.ChannelReader
	Actuator hw.Actuator
	Display  display.Driver
	Net      conn.Manager
	Mirror   uplink.Mirror
	Guard    watchdog.Guard
	DB       *storage.DB
}

// Engine wires the four managed tasks, the supervisor, the local store and
// the telemetry mirror together.
type Engine struct {
	cfg *config.Config
	log *zap.SugaredLogger

	db        *storage.DB
	dbOwn     bool
	net       conn.Manager
	netOwn    *conn.NetManager
	guard     watchdog.Guard
	softWD    *watchdog.Soft
	mirror    uplink.Mirror
	mirrorOwn bool

	sup  *Supervisor
	acq  *sensors.Acquirer
	irr  *irrigation.Controller
	up   *uplink.Task
	pres *display.Presenter

	mu            sync.RWMutex
	latest        sensors.Reading
	lastReadingID int64
	subscribers   []chan sensors.Reading

	stopChan chan struct{}
	stopOnce sync.Once
}

// New builds an engine from configuration and collaborators.
func New(cfg *config.Config, deps Deps, log *zap.SugaredLogger, onWatchdog func()) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}

	e.db = deps.DB
	if e.db == nil {
		db, err := storage.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		e.db = db
		e.dbOwn = true
	}

	e.net = deps.Net
	if e.net == nil {
		e.netOwn = conn.NewNetManager(conn.NetConfig{
			ProbeAddr:        cfg.Network.ProbeAddr,
			ProbeInterval:    time.Duration(cfg.Network.ProbeIntervalSec) * time.Second,
			TimeURL:          cfg.Network.TimeURL,
			TimeSyncInterval: time.Duration(cfg.Network.TimeSyncSec) * time.Second,
		}, log)
		e.net = e.netOwn
	}

	e.guard = deps.Guard
	if e.guard == nil {
		e.softWD = watchdog.NewSoft(time.Duration(cfg.Watchdog.TimeoutSec)*time.Second, onWatchdog, log)
		e.guard = e.softWD
	}

	e.mirror = deps.Mirror
	if e.mirror == nil {
		e.mirrorOwn = true
		if cfg.MQTT.Broker != "" {
			e.mirror = uplink.NewPahoMirror(uplink.MQTTConfig{
				Broker:     cfg.MQTT.Broker,
				Topic:      cfg.MQTT.Topic,
				ClientID:   cfg.MQTT.ClientID,
				Username:   cfg.MQTT.Username,
				Password:   cfg.MQTT.Password,
				BufferSize: cfg.MQTT.BufferSize,
			}, log)
		} else {
			e.mirror = uplink.NopMirror{}
		}
	}

	thresholds := thresholdTable(cfg)

	e.acq = sensors.NewAcquirer(sensors.AcquireConfig{
		Cadence:      time.Duration(cfg.Scheduler.SensorsSec) * time.Second,
		ProbeRetries: cfg.Sensors.ProbeRetries,
		ProbeSettle:  time.Duration(cfg.Sensors.ProbeSettleMs) * time.Millisecond,
		Defaults: sensors.Defaults{
			Temperature: cfg.Sensors.Defaults.Temperature,
			Humidity:    cfg.Sensors.Defaults.Humidity,
			Raw:         cfg.Sensors.Defaults.Raw,
		},
		AirCurve: sensors.AirCurve{
			PPMPerCount: cfg.Sensors.AirCurve.PPMPerCount,
			Offset:      cfg.Sensors.AirCurve.Offset,
		},
	}, deps.Probe, deps.Channels, e.net, log)
	e.acq.OnCommit(e.commitReading)

	e.irr = irrigation.New(irrigation.Config{
		Cadence:        time.Duration(cfg.Scheduler.IrrigationSec) * time.Second,
		DrynessBelow:   cfg.Irrigation.DrynessBelow,
		HeavyRainBelow: cfg.Irrigation.HeavyRainBelow,
		LightRainAt:    cfg.Irrigation.LightRainAt,
		PartialTarget:  cfg.Irrigation.PartialTarget,
		FullTarget:     cfg.Irrigation.FullTarget,
		MaxDuration:    time.Duration(cfg.Irrigation.MaxDurationSec) * time.Second,
	}, deps.Actuator, deps.Channels, e.Latest, log)
	e.irr.OnEvent(e.recordIrrigation)

	client := uplink.NewClient(uplink.ClientConfig{
		URL:     cfg.Ingest.URL,
		APIKey:  cfg.Ingest.APIKey,
		Timeout: time.Duration(cfg.Ingest.TimeoutSec) * time.Second,
	})
	e.up = uplink.NewTask(uplink.TaskConfig{
		Cadence:      time.Duration(cfg.Scheduler.UplinkSec) * time.Second,
		Timeout:      time.Duration(cfg.Ingest.TimeoutSec) * time.Second,
		FailureLimit: cfg.Ingest.FailureLimit,
	}, client, e.net, e.Latest, log)
	e.up.OnResult(e.recordUplink)

	e.pres = display.NewPresenter(display.PresenterConfig{
		Cadence:     time.Duration(cfg.Scheduler.DisplaySec) * time.Second,
		RotateEvery: time.Duration(cfg.Display.RotateSec) * time.Second,
		ErrorAfter:  time.Duration(cfg.Display.ErrorAfterSec) * time.Second,
	}, display.Renderer{Thresholds: thresholds}, deps.Display, e.displayStatus, log)

	// Registration order is the in-tick priority order.
	e.sup = NewSupervisor(SupervisorConfig{
		DisplayTimeout: time.Duration(cfg.Display.ErrorAfterSec) * time.Second,
		UplinkBackoff:  time.Duration(cfg.Ingest.RetryBackoffSec) * time.Second,
	}, e.guard, e.net.RequestReassociate, log)
	e.sup.Add(e.acq, task.CodeSensorDHT, task.CodeSensorSoil, task.CodeSensorRain,
		task.CodeSensorAir, task.CodeSensorLight)
	e.sup.Add(e.irr, task.CodeActuator)
	e.sup.Add(e.up, task.CodeConnectivity, task.CodeRemoteService)
	e.sup.Add(e.pres)

	return e, nil
}

func thresholdTable(cfg *config.Config) sensors.Thresholds {
	t := sensors.Thresholds{}
	for name, th := range cfg.Sensors.Thresholds {
		t[hw.Channel(name)] = sensors.Threshold{
			Low:      th.Low,
			High:     th.High,
			Inverted: th.Inverted,
		}
	}
	return t
}

// Run starts the collaborators and drives the scheduler until the context
// is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	if e.netOwn != nil {
		e.netOwn.Start(ctx)
	}
	if e.softWD != nil {
		e.softWD.Start()
	}

	e.log.Infow("engine started",
		"tick", e.cfg.Tick().String(), "device", e.cfg.Device.ID)

	ticker := time.NewTicker(e.cfg.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.stopChan:
			e.shutdown()
			return nil
		case now := <-ticker.C:
			e.sup.Tick(now)
			e.checkTimeSync(now)
		}
	}
}

// Stop makes Run return after the current tick.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// shutdown releases the valve first, then the collaborators the engine
// created itself. Injected collaborators (database, mirror, hardware,
// display) are closed by whoever supplied them.
func (e *Engine) shutdown() {
	if err := e.irr.ForceOff(); err != nil {
		e.log.Errorw("failed to release valve on shutdown", "error", err)
	}
	if e.softWD != nil {
		e.softWD.Stop()
	}
	if e.netOwn != nil {
		e.netOwn.Stop()
	}
	if e.mirrorOwn {
		e.mirror.Close()
	}
	if e.dbOwn {
		if err := e.db.Close(); err != nil {
			e.log.Warnw("error closing database", "error", err)
		}
	}
	e.log.Infow("engine stopped")
}

// checkTimeSync surfaces a missing wall clock as an error once the link is
// up and the boot grace period has passed.
func (e *Engine) checkTimeSync(now time.Time) {
	if e.net.TimeSynced() {
		e.sup.ClearIf(task.CodeTimeSync)
		return
	}
	if e.net.IsConnected() && e.net.Uptime() > timeSyncGrace {
		e.sup.Report(task.CodeTimeSync, now)
	}
}

// commitReading is the single entry point for a completed sensor cycle.
func (e *Engine) commitReading(r sensors.Reading) {
	id, err := e.db.InsertReading(&storage.ReadingRow{
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		LightLevel:    r.LightLevel,
		RainLevel:     r.RainLevel,
		AirQualityRaw: r.AirQualityRaw,
		AirQualityPPM: r.AirQualityPPM,
		SoilMoisture:  r.SoilMoisture,
		Timestamp:     r.Timestamp,
		TimeSynced:    r.TimeSynced,
		Valid:         r.Valid,
	})
	if err != nil {
		e.log.Warnw("failed to store reading", "error", err)
	}

	e.mu.Lock()
	e.latest = r
	if err == nil {
		e.lastReadingID = id
	}
	subs := make([]chan sensors.Reading, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	if r.Valid {
		e.mirror.Publish(uplink.PayloadFrom(r))
	}
	for _, ch := range subs {
		select {
		case ch <- r:
		default:
		}
	}
}

func (e *Engine) recordIrrigation(ev irrigation.Event) {
	if _, err := e.db.InsertIrrigationEvent(&storage.IrrigationEventRow{
		Mode:      ev.Mode.String(),
		Reason:    ev.Reason,
		StartSoil: ev.StartSoil,
		EndSoil:   ev.EndSoil,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
	}); err != nil {
		e.log.Warnw("failed to store irrigation event", "error", err)
	}
}

func (e *Engine) recordUplink(ok bool, p uplink.Payload) {
	detail := ""
	if !ok {
		detail = "transmission failed"
	}
	if err := e.db.RecordUplink(ok, detail); err != nil {
		e.log.Warnw("failed to record uplink attempt", "error", err)
	}
	if ok {
		e.mu.RLock()
		id := e.lastReadingID
		e.mu.RUnlock()
		if id != 0 {
			if err := e.db.MarkReadingUplinked(id); err != nil {
				e.log.Warnw("failed to mark reading uplinked", "error", err)
			}
		}
	}
}

// Latest returns the most recently committed sensor snapshot.
func (e *Engine) Latest() sensors.Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Subscribe returns a channel receiving each committed reading. Slow
// consumers miss readings rather than slowing acquisition down.
func (e *Engine) Subscribe() (<-chan sensors.Reading, func()) {
	ch := make(chan sensors.Reading, 4)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, sub := range e.subscribers {
			if sub == ch {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// ActiveError returns the surfaced error and how long it has been active.
func (e *Engine) ActiveError(now time.Time) (task.Code, time.Duration) {
	return e.sup.ActiveError(now)
}

// Tasks returns the scheduling state of every managed task.
func (e *Engine) Tasks() []TaskInfo {
	return e.sup.Tasks()
}

func (e *Engine) Connected() bool       { return e.net.IsConnected() }
func (e *Engine) TimeSynced() bool      { return e.net.TimeSynced() }
func (e *Engine) Uptime() time.Duration { return e.net.Uptime() }
func (e *Engine) Watering() bool        { return e.irr.Watering() }
func (e *Engine) DB() *storage.DB       { return e.db }
func (e *Engine) DeviceID() string      { return e.cfg.Device.ID }

// displayStatus assembles the presenter's view of the system as of the
// current tick.
func (e *Engine) displayStatus(now time.Time) display.Status {
	code, activeFor := e.sup.ActiveError(now)
	return display.Status{
		Reading:    e.Latest(),
		Err:        code,
		ErrFor:     activeFor,
		Connected:  e.net.IsConnected(),
		TimeSynced: e.net.TimeSynced(),
		Uptime:     e.net.Uptime(),
		Watering:   e.irr.Watering(),
	}
}
