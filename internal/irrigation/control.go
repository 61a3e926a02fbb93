// Package irrigation drives the water valve through bounded-duration cycles
// derived from the latest sensor snapshot.
package irrigation

import (
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/hw"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/task"
)

// Mode is the watering decision for one cycle.
type Mode uint8

const (
	ModeSkip Mode = iota
	ModePartial
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeSkip:
		return "skip"
	case ModePartial:
		return "partial"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Cycle end reasons recorded with each event.
const (
	ReasonSkippedRain   = "skipped_rain"
	ReasonTargetReached = "target_reached"
	ReasonTimeout       = "timeout"
	ReasonActuatorFault = "actuator_fault"
)

// Event describes one completed watering evaluation.
type Event struct {
	Mode      Mode
	Reason    string
	StartSoil int
	EndSoil   int
	StartedAt time.Time
	EndedAt   time.Time
}

// Config tunes the irrigation task. Rain bands use the inverted convention:
// a lower raw rain value means more rain.
type Config struct {
	Cadence time.Duration

	// DrynessBelow gates evaluation: soil at or above it never waters.
	DrynessBelow int

	// HeavyRainBelow and LightRainAt split the rain scale into the
	// skip / partial / full bands.
	HeavyRainBelow int
	LightRainAt    int

	// Soil targets monitored during partial and full cycles.
	PartialTarget int
	FullTarget    int

	// MaxDuration is the hard cap on actuator-on time per cycle. It bounds
	// runaway actuation when the soil sensor fails mid-cycle.
	MaxDuration time.Duration
}

type phase uint8

const (
	phaseEvaluate phase = iota
	phaseWatering
)

// Controller is the irrigation task.
type Controller struct {
	cfg      Config
	actuator hw.Actuator
	channels hw.ChannelReader
	latest   func() sensors.Reading
	log      *zap.SugaredLogger

	phase     phase
	mode      Mode
	startedAt time.Time
	startSoil int
	lastSoil  int

	onEvent func(Event)
}

// New creates the irrigation task. latest supplies the most recently
// committed sensor snapshot; soil moisture is re-read directly from hardware
// on every tick while the valve is open.
func New(cfg Config, actuator hw.Actuator, channels hw.ChannelReader, latest func() sensors.Reading, log *zap.SugaredLogger) *Controller {
	return &Controller{
		cfg:      cfg,
		actuator: actuator,
		channels: channels,
		latest:   latest,
		log:      log,
	}
}

// OnEvent registers a callback invoked for each completed watering
// evaluation (including skips).
func (c *Controller) OnEvent(fn func(Event)) { c.onEvent = fn }

// Watering reports whether the valve is currently driven.
func (c *Controller) Watering() bool { return c.phase == phaseWatering }

func (c *Controller) Name() string           { return "irrigation" }
func (c *Controller) Cadence() time.Duration { return c.cfg.Cadence }

// Step advances the cycle state machine. The valve is released on every exit
// path, including failures.
func (c *Controller) Step(now time.Time) task.Outcome {
	switch c.phase {
	case phaseEvaluate:
		return c.evaluate(now)
	case phaseWatering:
		return c.water(now)
	default:
		return task.Complete()
	}
}

func (c *Controller) evaluate(now time.Time) task.Outcome {
	r := c.latest()
	if !r.Valid {
		// No trustworthy snapshot yet; never water blind.
		return task.Complete()
	}
	if r.SoilMoisture >= c.cfg.DrynessBelow {
		return task.Complete()
	}

	if r.RainLevel < c.cfg.HeavyRainBelow {
		c.emit(Event{
			Mode:      ModeSkip,
			Reason:    ReasonSkippedRain,
			StartSoil: r.SoilMoisture,
			EndSoil:   r.SoilMoisture,
			StartedAt: now,
			EndedAt:   now,
		})
		return task.Complete()
	}

	if r.RainLevel < c.cfg.LightRainAt {
		c.mode = ModePartial
	} else {
		c.mode = ModeFull
	}

	if err := c.actuator.Set(true); err != nil {
		_ = c.actuator.Set(false)
		c.log.Errorw("failed to open valve", "error", err)
		c.emit(Event{
			Mode:      c.mode,
			Reason:    ReasonActuatorFault,
			StartSoil: r.SoilMoisture,
			EndSoil:   r.SoilMoisture,
			StartedAt: now,
			EndedAt:   now,
		})
		return task.Fail(task.CodeActuator)
	}

	c.phase = phaseWatering
	c.startedAt = now
	c.startSoil = r.SoilMoisture
	c.lastSoil = r.SoilMoisture
	c.log.Infow("watering cycle started",
		"mode", c.mode.String(), "soil", r.SoilMoisture, "rain", r.RainLevel)
	return task.Continue()
}

func (c *Controller) water(now time.Time) task.Outcome {
	target := c.cfg.FullTarget
	if c.mode == ModePartial {
		target = c.cfg.PartialTarget
	}

	soil, err := c.channels.ReadChannel(hw.ChannelSoil)
	if err == nil && soil >= hw.RawMin && soil <= hw.RawMax {
		c.lastSoil = soil
		if soil >= target {
			return c.finish(now, ReasonTargetReached)
		}
	}
	// An unreadable soil sensor does not abort the cycle; the duration cap
	// below is the safety invariant.

	if now.Sub(c.startedAt) >= c.cfg.MaxDuration {
		return c.finish(now, ReasonTimeout)
	}
	return task.Continue()
}

func (c *Controller) finish(now time.Time, reason string) task.Outcome {
	c.phase = phaseEvaluate
	err := c.actuator.Set(false)

	c.emit(Event{
		Mode:      c.mode,
		Reason:    reason,
		StartSoil: c.startSoil,
		EndSoil:   c.lastSoil,
		StartedAt: c.startedAt,
		EndedAt:   now,
	})
	c.log.Infow("watering cycle finished",
		"mode", c.mode.String(), "reason", reason,
		"soil_start", c.startSoil, "soil_end", c.lastSoil,
		"duration", now.Sub(c.startedAt).String())

	if err != nil {
		c.log.Errorw("failed to release valve", "error", err)
		return task.Fail(task.CodeActuator)
	}
	return task.Complete()
}

// ForceOff releases the valve unconditionally. Called on shutdown and by the
// supervisor's actuator recovery path.
func (c *Controller) ForceOff() error {
	c.phase = phaseEvaluate
	return c.actuator.Set(false)
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
