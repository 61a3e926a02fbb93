package display

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/hw"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/task"
)

func testRenderer() Renderer {
	return Renderer{Thresholds: sensors.Thresholds{
		hw.ChannelLight:      {Low: 300, High: 700, Inverted: true},
		hw.ChannelRain:       {Low: 300, High: 990, Inverted: true},
		hw.ChannelAirQuality: {Low: 200, High: 600},
		hw.ChannelSoil:       {Low: 200, High: 400},
	}}
}

func testStatus() Status {
	return Status{
		Reading: sensors.Reading{
			Temperature:   22.5,
			Humidity:      55,
			LightLevel:    650,
			RainLevel:     1010,
			AirQualityRaw: 240,
			AirQualityPPM: 288,
			SoilMoisture:  150,
			Valid:         true,
		},
		Connected:  true,
		TimeSynced: true,
		Uptime:     90 * time.Second,
	}
}

func TestRenderEnvironment(t *testing.T) {
	lines := testRenderer().Render(ViewEnvironment, testStatus())
	if len(lines) != Lines {
		t.Fatalf("frame has %d lines, want %d", len(lines), Lines)
	}
	if lines[0] != "T 22.5C H 55%" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "288ppm") {
		t.Errorf("line 2 = %q, want air ppm", lines[1])
	}
}

func TestRenderEnvironmentWatering(t *testing.T) {
	st := testStatus()
	st.Watering = true
	lines := testRenderer().Render(ViewEnvironment, st)
	if !strings.HasPrefix(lines[1], "Watering") {
		t.Errorf("line 2 = %q, want watering marker", lines[1])
	}
}

func TestRenderChannels(t *testing.T) {
	lines := testRenderer().Render(ViewChannels, testStatus())
	// Light 650 mid band; rain 1010 above the inverted high band reads LO;
	// air 240 medium; soil 150 below the low threshold.
	if lines[0] != "L:MD R:LO" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if lines[1] != "A:MD S:LO" {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestRenderNetwork(t *testing.T) {
	lines := testRenderer().Render(ViewNetwork, testStatus())
	if lines[0] != "link UP up 90s" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if lines[1] != "clock synced" {
		t.Errorf("line 2 = %q", lines[1])
	}

	st := testStatus()
	st.Connected = false
	st.TimeSynced = false
	lines = testRenderer().Render(ViewNetwork, st)
	if !strings.Contains(lines[0], "DOWN") || lines[1] != "clock local" {
		t.Errorf("offline frame = %q", lines)
	}
}

func TestRenderError(t *testing.T) {
	st := testStatus()
	st.Err = task.CodeActuator
	st.ErrFor = 7 * time.Second
	lines := testRenderer().RenderError(st)
	if lines[0] != "ERR VALVE" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if lines[1] != "active 7s" {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func presenterConfig() PresenterConfig {
	return PresenterConfig{
		Cadence:     time.Second,
		RotateEvery: 4 * time.Second,
		ErrorAfter:  5 * time.Second,
	}
}

func TestPresenterRotation(t *testing.T) {
	driver := &FakeDriver{}
	st := testStatus()
	p := NewPresenter(presenterConfig(), testRenderer(), driver, func(time.Time) Status { return st }, zap.NewNop().Sugar())

	start := time.Now()
	p.Step(start)
	if p.CurrentView() != ViewEnvironment {
		t.Fatalf("initial view = %d, want environment", p.CurrentView())
	}

	p.Step(start.Add(2 * time.Second))
	if p.CurrentView() != ViewEnvironment {
		t.Fatal("rotated before the rotation interval")
	}

	p.Step(start.Add(4 * time.Second))
	if p.CurrentView() != ViewChannels {
		t.Fatalf("view = %d, want channels after rotation", p.CurrentView())
	}

	p.Step(start.Add(8 * time.Second))
	if p.CurrentView() != ViewNetwork {
		t.Fatalf("view = %d, want network", p.CurrentView())
	}

	p.Step(start.Add(12 * time.Second))
	if p.CurrentView() != ViewEnvironment {
		t.Fatalf("view = %d, want wraparound to environment", p.CurrentView())
	}
}

func TestPresenterErrorViewTakesPriority(t *testing.T) {
	driver := &FakeDriver{}
	st := testStatus()
	p := NewPresenter(presenterConfig(), testRenderer(), driver, func(time.Time) Status { return st }, zap.NewNop().Sugar())

	// Error active but still inside the grace window: rotation continues.
	st.Err = task.CodeConnectivity
	st.ErrFor = 2 * time.Second
	p.Step(time.Now())
	if strings.HasPrefix(p.LastFrame()[0], "ERR") {
		t.Fatal("error view shown before the display timeout")
	}

	st.ErrFor = 6 * time.Second
	out := p.Step(time.Now())
	if !out.Done || out.Code != task.CodeNone {
		t.Fatalf("Step = %+v, want completion", out)
	}
	if p.LastFrame()[0] != "ERR NETWORK" {
		t.Errorf("frame = %q, want error view", p.LastFrame())
	}
}

func TestPresenterSurvivesDriverFailure(t *testing.T) {
	driver := &FakeDriver{WriteErr: errors.New("daemon gone")}
	p := NewPresenter(presenterConfig(), testRenderer(), driver, func(time.Time) Status { return testStatus() }, zap.NewNop().Sugar())

	out := p.Step(time.Now())
	if !out.Done || out.Code != task.CodeNone {
		t.Fatalf("Step = %+v, display faults must never surface as errors", out)
	}
}

func TestPresenterQueriesStatusAtTickTime(t *testing.T) {
	driver := &FakeDriver{}
	var got time.Time
	p := NewPresenter(presenterConfig(), testRenderer(), driver, func(now time.Time) Status {
		got = now
		return testStatus()
	}, zap.NewNop().Sugar())

	tick := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Step(tick)
	if !got.Equal(tick) {
		t.Errorf("status queried at %v, want the tick time %v", got, tick)
	}
}
