// Package display renders the rotating status views and ships them to the
// local display daemon. The physical character protocol belongs to the
// daemon; the contract here is "render these lines".
package display

import (
	"fmt"
	"time"

	"github.com/agrinet/field-controller/internal/hw"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/task"
)

// Lines per frame on the deployed display module.
const Lines = 2

// View selects one of the fixed rotation views.
type View uint8

const (
	ViewEnvironment View = iota
	ViewChannels
	ViewNetwork

	viewCount
)

// Status is the read-only snapshot a frame is rendered from.
type Status struct {
	Reading    sensors.Reading
	Err        task.Code
	ErrFor     time.Duration
	Connected  bool
	TimeSynced bool
	Uptime     time.Duration
	Watering   bool
}

// Renderer turns a Status into text lines. Pure; every view is a function of
// its inputs only.
type Renderer struct {
	Thresholds sensors.Thresholds
}

// Render produces the frame for a view.
func (rd Renderer) Render(v View, st Status) []string {
	switch v {
	case ViewEnvironment:
		return rd.environment(st)
	case ViewChannels:
		return rd.channels(st)
	case ViewNetwork:
		return rd.network(st)
	default:
		return []string{"", ""}
	}
}

// RenderError produces the error frame shown with priority over rotation.
func (rd Renderer) RenderError(st Status) []string {
	return []string{
		"ERR " + errLabel(st.Err),
		fmt.Sprintf("active %ds", int(st.ErrFor/time.Second)),
	}
}

func (rd Renderer) environment(st Status) []string {
	r := st.Reading
	line2 := fmt.Sprintf("Air %.0fppm", r.AirQualityPPM)
	if st.Watering {
		line2 = "Watering  " + line2
	}
	return []string{
		fmt.Sprintf("T %.1fC H %.0f%%", r.Temperature, r.Humidity),
		line2,
	}
}

func (rd Renderer) channels(st Status) []string {
	r := st.Reading
	tier := func(ch hw.Channel) string {
		return tierAbbrev(rd.Thresholds.Classify(ch, r.Raw(ch)))
	}
	return []string{
		fmt.Sprintf("L:%s R:%s", tier(hw.ChannelLight), tier(hw.ChannelRain)),
		fmt.Sprintf("A:%s S:%s", tier(hw.ChannelAirQuality), tier(hw.ChannelSoil)),
	}
}

func (rd Renderer) network(st Status) []string {
	link := "link DOWN"
	if st.Connected {
		link = "link UP"
	}
	clock := "clock local"
	if st.TimeSynced {
		clock = "clock synced"
	}
	return []string{
		fmt.Sprintf("%s up %ds", link, int(st.Uptime/time.Second)),
		clock,
	}
}

func tierAbbrev(t sensors.Tier) string {
	switch t {
	case sensors.TierLow:
		return "LO"
	case sensors.TierMedium:
		return "MD"
	case sensors.TierHigh:
		return "HI"
	default:
		return "??"
	}
}

func errLabel(c task.Code) string {
	switch c {
	case task.CodeSensorDHT:
		return "TEMP/HUM"
	case task.CodeSensorSoil:
		return "SOIL"
	case task.CodeSensorRain:
		return "RAIN"
	case task.CodeSensorAir:
		return "AIR"
	case task.CodeSensorLight:
		return "LIGHT"
	case task.CodeActuator:
		return "VALVE"
	case task.CodeConnectivity:
		return "NETWORK"
	case task.CodeRemoteService:
		return "UPLINK"
	case task.CodeTimeSync:
		return "CLOCK"
	default:
		return "NONE"
	}
}
