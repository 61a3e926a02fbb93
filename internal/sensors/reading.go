// Package sensors owns the shared sensor snapshot and the acquisition task
// that produces it.
package sensors

import (
	"time"

	"github.com/agrinet/field-controller/internal/hw"
)

// Reading is the single shared snapshot of device state. It is written only
// by the acquisition task, once per completed cycle, and read by every other
// task between cycles.
type Reading struct {
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	LightLevel    int     `json:"lightLevel"`
	RainLevel     int     `json:"rainLevel"`
	AirQualityRaw int     `json:"airQualityRaw"`
	AirQualityPPM float64 `json:"airQualityPPM"`
	SoilMoisture  int     `json:"soilMoisture"`

	// Timestamp is seconds since epoch when network time is available,
	// otherwise seconds of uptime.
	Timestamp int64 `json:"timestamp"`

	// TimeSynced reports which of the two Timestamp bases applies.
	TimeSynced bool `json:"timeSynced"`

	// Valid becomes true once every configured channel has produced at
	// least one non-error reading since boot.
	Valid bool `json:"valid"`
}

// Raw returns the raw value for an analog channel.
func (r Reading) Raw(ch hw.Channel) int {
	switch ch {
	case hw.ChannelLight:
		return r.LightLevel
	case hw.ChannelRain:
		return r.RainLevel
	case hw.ChannelAirQuality:
		return r.AirQualityRaw
	case hw.ChannelSoil:
		return r.SoilMoisture
	default:
		return 0
	}
}

// Tier is a channel's status classification.
type Tier uint8

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Threshold is one channel's classification band. Inverted flips the scale:
// higher raw values map to a lower tier. The observed probe revisions do not
// agree on inversion for light and rain, so the convention is configured, not
// assumed.
type Threshold struct {
	Low      int
	High     int
	Inverted bool
}

// Classify maps a raw value onto a tier.
func (t Threshold) Classify(raw int) Tier {
	var tier Tier
	switch {
	case raw < t.Low:
		tier = TierLow
	case raw > t.High:
		tier = TierHigh
	default:
		tier = TierMedium
	}
	if t.Inverted {
		switch tier {
		case TierLow:
			return TierHigh
		case TierHigh:
			return TierLow
		}
	}
	return tier
}

// Thresholds maps each channel to its classification band.
type Thresholds map[hw.Channel]Threshold

// Classify classifies a channel's raw value; unknown channels are Medium.
func (t Thresholds) Classify(ch hw.Channel, raw int) Tier {
	th, ok := t[ch]
	if !ok {
		return TierMedium
	}
	return th.Classify(raw)
}

// AirCurve converts the raw air quality count into parts per million. The
// factory calibration is linear over the usable range of the element.
type AirCurve struct {
	PPMPerCount float64
	Offset      float64
}

// PPM converts a raw count.
func (c AirCurve) PPM(raw int) float64 {
	ppm := float64(raw)*c.PPMPerCount + c.Offset
	if ppm < 0 {
		return 0
	}
	return ppm
}

// TimeSource supplies timestamps for committed readings.
type TimeSource interface {
	// WallClock returns epoch seconds and whether network time is synced.
	WallClock() (int64, bool)

	// Uptime returns time since boot.
	Uptime() time.Duration
}
