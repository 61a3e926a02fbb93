package sensors

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/conn"
	"github.com/agrinet/field-controller/internal/hw"
	"github.com/agrinet/field-controller/internal/task"
)

func testAcquireConfig() AcquireConfig {
	return AcquireConfig{
		Cadence:      time.Second,
		ProbeRetries: 3,
		ProbeSettle:  500 * time.Millisecond,
		Defaults:     Defaults{Temperature: 20.0, Humidity: 50.0, Raw: 512},
		AirCurve:     AirCurve{PPMPerCount: 1.0},
	}
}

func healthyChannels() *hw.FakeChannels {
	return hw.NewFakeChannels(map[hw.Channel][]int{
		hw.ChannelLight:      {650},
		hw.ChannelRain:       {1010},
		hw.ChannelAirQuality: {240},
		hw.ChannelSoil:       {180},
	})
}

func setupAcquirer(t *testing.T, probe *hw.FakeProbe, channels *hw.FakeChannels) (*Acquirer, *conn.Fake) {
	t.Helper()
	clock := &conn.Fake{Synced: true, Epoch: 1700000000, UptimeDur: 90 * time.Second}
	a := NewAcquirer(testAcquireConfig(), probe, channels, clock, zap.NewNop().Sugar())
	return a, clock
}

func TestAcquireHappyPath(t *testing.T) {
	probe := &hw.FakeProbe{Temperature: 22.5, Humidity: 55}
	a, _ := setupAcquirer(t, probe, healthyChannels())

	var committed []Reading
	a.OnCommit(func(r Reading) { committed = append(committed, r) })

	out := a.Step(time.Now())
	if !out.Done || out.Code != task.CodeNone {
		t.Fatalf("Step = %+v, want successful completion", out)
	}

	if len(committed) != 1 {
		t.Fatalf("committed %d readings, want 1", len(committed))
	}
	r := committed[0]
	if r.Temperature != 22.5 || r.Humidity != 55 {
		t.Errorf("probe values = %v/%v, want 22.5/55", r.Temperature, r.Humidity)
	}
	if r.SoilMoisture != 180 || r.LightLevel != 650 {
		t.Errorf("channel values wrong: %+v", r)
	}
	if r.AirQualityPPM != 240 {
		t.Errorf("AirQualityPPM = %v, want 240", r.AirQualityPPM)
	}
	if !r.Valid {
		t.Error("reading should be valid when every source read cleanly")
	}
	if !r.TimeSynced || r.Timestamp != 1700000000 {
		t.Errorf("timestamp = %d synced=%v, want synced epoch", r.Timestamp, r.TimeSynced)
	}
}

func TestAcquireProbeRetriesAcrossTicks(t *testing.T) {
	probe := &hw.FakeProbe{Temperature: 21, Humidity: 60, FailCount: 2}
	a, _ := setupAcquirer(t, probe, healthyChannels())

	start := time.Now()

	// First attempt fails; the cycle yields and schedules a settle delay.
	if out := a.Step(start); out.Done {
		t.Fatalf("cycle finished on first failed probe attempt: %+v", out)
	}
	if probe.Reads != 1 {
		t.Fatalf("probe reads = %d, want 1", probe.Reads)
	}

	// Stepping before the settle interval must not touch the probe.
	if out := a.Step(start.Add(100 * time.Millisecond)); out.Done {
		t.Fatalf("cycle finished while settling: %+v", out)
	}
	if probe.Reads != 1 {
		t.Fatalf("probe read during settle window, reads = %d", probe.Reads)
	}

	// Second attempt after the settle interval fails again.
	if out := a.Step(start.Add(600 * time.Millisecond)); out.Done {
		t.Fatalf("cycle finished on second failed attempt: %+v", out)
	}

	// Third attempt succeeds and the cycle completes.
	out := a.Step(start.Add(1200 * time.Millisecond))
	if !out.Done || out.Code != task.CodeNone {
		t.Fatalf("Step = %+v, want success after probe recovery", out)
	}
	if got := a.Latest().Temperature; got != 21 {
		t.Errorf("Temperature = %v, want 21", got)
	}
}

func TestAcquireProbeExhaustionFallsBack(t *testing.T) {
	probe := &hw.FakeProbe{FailCount: 100, ReadErr: errors.New("checksum mismatch")}
	a, _ := setupAcquirer(t, probe, healthyChannels())

	start := time.Now()
	var out task.Outcome
	for i := 0; i < 10 && !out.Done; i++ {
		out = a.Step(start.Add(time.Duration(i) * time.Second))
	}

	if !out.Done {
		t.Fatal("cycle never finished after probe retries exhausted")
	}
	if out.Code != task.CodeSensorDHT {
		t.Fatalf("Code = %s, want sensor_dht", out.Code)
	}

	r := a.Latest()
	if r.Temperature != 20.0 || r.Humidity != 50.0 {
		t.Errorf("fallback values = %v/%v, want documented defaults", r.Temperature, r.Humidity)
	}
	if r.Valid {
		t.Error("reading must stay invalid while the probe has never succeeded")
	}
}

func TestAcquireProbeFallbackUsesLastGood(t *testing.T) {
	probe := &hw.FakeProbe{Temperature: 25, Humidity: 40}
	a, _ := setupAcquirer(t, probe, healthyChannels())

	// One clean cycle establishes last-known-good values.
	if out := a.Step(time.Now()); !out.Done || out.Code != task.CodeNone {
		t.Fatalf("first cycle = %+v, want success", out)
	}

	probe.FailCount = 100
	start := time.Now()
	var out task.Outcome
	for i := 0; i < 10 && !out.Done; i++ {
		out = a.Step(start.Add(time.Duration(i) * time.Second))
	}

	if out.Code != task.CodeSensorDHT {
		t.Fatalf("Code = %s, want sensor_dht", out.Code)
	}
	r := a.Latest()
	if r.Temperature != 25 || r.Humidity != 40 {
		t.Errorf("fallback = %v/%v, want last good 25/40", r.Temperature, r.Humidity)
	}
	if !r.Valid {
		t.Error("reading should remain valid when every source has succeeded before")
	}
}

func TestAcquireOutOfRangeRejected(t *testing.T) {
	channels := healthyChannels()
	channels.Set(hw.ChannelSoil, 2000)
	probe := &hw.FakeProbe{Temperature: 22, Humidity: 50}
	a, _ := setupAcquirer(t, probe, channels)

	out := a.Step(time.Now())
	if !out.Done || out.Code != task.CodeSensorSoil {
		t.Fatalf("Step = %+v, want sensor_soil failure", out)
	}

	r := a.Latest()
	if r.SoilMoisture != 512 {
		t.Errorf("SoilMoisture = %d, want default fallback 512", r.SoilMoisture)
	}
	if r.Valid {
		t.Error("reading must be invalid while soil has never produced a value")
	}
}

func TestAcquireReportsHighestSeverityChannel(t *testing.T) {
	channels := healthyChannels()
	channels.Errors[hw.ChannelSoil] = errors.New("open circuit")
	channels.Errors[hw.ChannelLight] = errors.New("open circuit")
	probe := &hw.FakeProbe{Temperature: 22, Humidity: 50}
	a, _ := setupAcquirer(t, probe, channels)

	out := a.Step(time.Now())
	if out.Code != task.CodeSensorLight {
		t.Fatalf("Code = %s, want sensor_light (outranks sensor_soil)", out.Code)
	}
}

func TestAcquireChannelFallbackUsesLastGood(t *testing.T) {
	channels := healthyChannels()
	probe := &hw.FakeProbe{Temperature: 22, Humidity: 50}
	a, _ := setupAcquirer(t, probe, channels)

	if out := a.Step(time.Now()); out.Code != task.CodeNone {
		t.Fatalf("first cycle failed: %+v", out)
	}

	channels.Errors[hw.ChannelRain] = errors.New("adc timeout")
	out := a.Step(time.Now())
	if out.Code != task.CodeSensorRain {
		t.Fatalf("Code = %s, want sensor_rain", out.Code)
	}

	r := a.Latest()
	if r.RainLevel != 1010 {
		t.Errorf("RainLevel = %d, want last good 1010", r.RainLevel)
	}
	if !r.Valid {
		t.Error("reading should stay valid on last-known-good substitution")
	}
}

func TestAcquireUptimeTimestampWhenUnsynced(t *testing.T) {
	probe := &hw.FakeProbe{Temperature: 22, Humidity: 50}
	a, clock := setupAcquirer(t, probe, healthyChannels())
	clock.Synced = false
	clock.UptimeDur = 135 * time.Second

	if out := a.Step(time.Now()); !out.Done {
		t.Fatal("cycle did not finish")
	}

	r := a.Latest()
	if r.TimeSynced {
		t.Error("TimeSynced should be false without a wall clock")
	}
	if r.Timestamp != 135 {
		t.Errorf("Timestamp = %d, want uptime seconds 135", r.Timestamp)
	}
}
