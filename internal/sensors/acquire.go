package sensors

import (
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/hw"
	"github.com/agrinet/field-controller/internal/task"
)

// Defaults are the documented safe values substituted when a channel has
// never produced a valid reading.
type Defaults struct {
	Temperature float64
	Humidity    float64
	Raw         int
}

// AcquireConfig tunes the acquisition task.
type AcquireConfig struct {
	Cadence time.Duration

	// ProbeRetries bounds combined-probe attempts per cycle. The part is
	// failure-prone right after power-up and needs settle time between
	// attempts.
	ProbeRetries int
	ProbeSettle  time.Duration

	Defaults Defaults
	AirCurve AirCurve
}

// codeFor maps a channel to its failure code.
func codeFor(ch hw.Channel) task.Code {
	switch ch {
	case hw.ChannelSoil:
		return task.CodeSensorSoil
	case hw.ChannelRain:
		return task.CodeSensorRain
	case hw.ChannelAirQuality:
		return task.CodeSensorAir
	case hw.ChannelLight:
		return task.CodeSensorLight
	default:
		return task.CodeNone
	}
}

// Acquirer reads every physical channel once per cycle, validates, and
// commits the shared Reading exactly once at cycle completion. A cycle may
// span several ticks while the combined probe settles between retries; the
// step function never sleeps.
type Acquirer struct {
	cfg      AcquireConfig
	probe    hw.CombinedProbe
	channels hw.ChannelReader
	clock    TimeSource
	log      *zap.SugaredLogger

	// progress state for the current cycle
	probeDone     bool
	probeFailed   bool
	probeAttempts int
	retryAt       time.Time
	temperature   float64
	humidity      float64

	// last-known-good values per channel
	lastRaw        map[hw.Channel]int
	rawEverValid   map[hw.Channel]bool
	probeEverValid bool

	last     Reading
	onCommit func(Reading)
}

// NewAcquirer creates the acquisition task.
func NewAcquirer(cfg AcquireConfig, probe hw.CombinedProbe, channels hw.ChannelReader, clock TimeSource, log *zap.SugaredLogger) *Acquirer {
	return &Acquirer{
		cfg:          cfg,
		probe:        probe,
		channels:     channels,
		clock:        clock,
		log:          log,
		lastRaw:      make(map[hw.Channel]int),
		rawEverValid: make(map[hw.Channel]bool),
	}
}

// OnCommit registers a callback invoked with each committed Reading.
func (a *Acquirer) OnCommit(fn func(Reading)) { a.onCommit = fn }

// Latest returns the most recently committed Reading.
func (a *Acquirer) Latest() Reading { return a.last }

func (a *Acquirer) Name() string           { return "sensors" }
func (a *Acquirer) Cadence() time.Duration { return a.cfg.Cadence }

// Step advances the current acquisition cycle.
func (a *Acquirer) Step(now time.Time) task.Outcome {
	if !a.probeDone {
		if out, waiting := a.stepProbe(now); waiting {
			return out
		}
	}

	reading := Reading{
		Temperature: a.temperature,
		Humidity:    a.humidity,
	}

	worst := task.CodeNone
	if a.probeFailed {
		worst = task.CodeSensorDHT
	}

	for _, ch := range hw.Channels {
		raw, err := a.readRaw(ch)
		if err != nil {
			raw = a.fallbackRaw(ch)
			if code := codeFor(ch); code.Outranks(worst) {
				worst = code
			}
			a.log.Warnw("channel read invalid, using fallback",
				"channel", string(ch), "fallback", raw, "error", err)
		} else {
			a.lastRaw[ch] = raw
			a.rawEverValid[ch] = true
		}

		switch ch {
		case hw.ChannelLight:
			reading.LightLevel = raw
		case hw.ChannelRain:
			reading.RainLevel = raw
		case hw.ChannelAirQuality:
			reading.AirQualityRaw = raw
			reading.AirQualityPPM = a.cfg.AirCurve.PPM(raw)
		case hw.ChannelSoil:
			reading.SoilMoisture = raw
		}
	}

	// Timestamp assignment never fails the cycle.
	if epoch, synced := a.clock.WallClock(); synced {
		reading.Timestamp = epoch
		reading.TimeSynced = true
	} else {
		reading.Timestamp = int64(a.clock.Uptime() / time.Second)
	}

	reading.Valid = a.probeEverValid
	for _, ch := range hw.Channels {
		if !a.rawEverValid[ch] {
			reading.Valid = false
			break
		}
	}

	// Single commit point: consumers only ever see completed cycles.
	a.last = reading
	if a.onCommit != nil {
		a.onCommit(reading)
	}
	a.resetCycle()

	if worst != task.CodeNone {
		return task.Fail(worst)
	}
	return task.Complete()
}

// stepProbe runs the combined-probe phase. It returns waiting=true while the
// cycle must yield and be stepped again after the settle interval.
func (a *Acquirer) stepProbe(now time.Time) (task.Outcome, bool) {
	if !a.retryAt.IsZero() && now.Before(a.retryAt) {
		return task.Continue(), true
	}

	temperature, humidity, err := a.probe.Read()
	if err == nil {
		a.temperature = temperature
		a.humidity = humidity
		a.probeEverValid = true
		a.probeDone = true
		return task.Outcome{}, false
	}

	a.probeAttempts++
	if a.probeAttempts < a.cfg.ProbeRetries {
		a.retryAt = now.Add(a.cfg.ProbeSettle)
		return task.Continue(), true
	}

	// Retries exhausted: fall back and finish the cycle anyway. Temperature
	// and humidity are co-valid, so both fall back together.
	a.probeFailed = true
	a.probeDone = true
	if a.probeEverValid {
		a.temperature = a.last.Temperature
		a.humidity = a.last.Humidity
	} else {
		a.temperature = a.cfg.Defaults.Temperature
		a.humidity = a.cfg.Defaults.Humidity
	}
	a.log.Warnw("combined probe failed after retries, using fallback",
		"attempts", a.probeAttempts, "error", err)
	return task.Outcome{}, false
}

func (a *Acquirer) readRaw(ch hw.Channel) (int, error) {
	raw, err := a.channels.ReadChannel(ch)
	if err != nil {
		return 0, err
	}
	if raw < hw.RawMin || raw > hw.RawMax {
		return 0, &RangeError{Channel: ch, Raw: raw}
	}
	return raw, nil
}

func (a *Acquirer) fallbackRaw(ch hw.Channel) int {
	if a.rawEverValid[ch] {
		return a.lastRaw[ch]
	}
	return a.cfg.Defaults.Raw
}

func (a *Acquirer) resetCycle() {
	a.probeDone = false
	a.probeFailed = false
	a.probeAttempts = 0
	a.retryAt = time.Time{}
}

// RangeError reports a raw value outside the converter range.
type RangeError struct {
	Channel hw.Channel
	Raw     int
}

func (e *RangeError) Error() string {
	return "raw value out of range on " + string(e.Channel)
}
