package sensors

import (
	"testing"

	"github.com/agrinet/field-controller/internal/hw"
)

func TestThresholdClassify(t *testing.T) {
	th := Threshold{Low: 200, High: 400}

	tests := []struct {
		name string
		raw  int
		want Tier
	}{
		{"below low", 150, TierLow},
		{"at low", 200, TierMedium},
		{"mid band", 300, TierMedium},
		{"at high", 400, TierMedium},
		{"above high", 401, TierHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Classify(tt.raw); got != tt.want {
				t.Errorf("Classify(%d) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestThresholdClassifyInverted(t *testing.T) {
	// Rain and light sensors report higher raw values for less signal.
	th := Threshold{Low: 300, High: 990, Inverted: true}

	if got := th.Classify(100); got != TierHigh {
		t.Errorf("Classify(100) inverted = %s, want high", got)
	}
	if got := th.Classify(500); got != TierMedium {
		t.Errorf("Classify(500) inverted = %s, want medium", got)
	}
	if got := th.Classify(1000); got != TierLow {
		t.Errorf("Classify(1000) inverted = %s, want low", got)
	}
}

func TestThresholdsUnknownChannel(t *testing.T) {
	var table Thresholds
	if got := table.Classify(hw.ChannelSoil, 50); got != TierMedium {
		t.Errorf("unknown channel = %s, want medium", got)
	}
}

func TestAirCurvePPM(t *testing.T) {
	c := AirCurve{PPMPerCount: 1.2, Offset: -12}

	if got := c.PPM(100); got != 108 {
		t.Errorf("PPM(100) = %v, want 108", got)
	}
	// Negative results clamp to zero.
	if got := c.PPM(5); got != 0 {
		t.Errorf("PPM(5) = %v, want 0", got)
	}
}

func TestReadingRaw(t *testing.T) {
	r := Reading{LightLevel: 1, RainLevel: 2, AirQualityRaw: 3, SoilMoisture: 4}

	want := map[hw.Channel]int{
		hw.ChannelLight:      1,
		hw.ChannelRain:       2,
		hw.ChannelAirQuality: 3,
		hw.ChannelSoil:       4,
	}
	for ch, v := range want {
		if got := r.Raw(ch); got != v {
			t.Errorf("Raw(%s) = %d, want %d", ch, got, v)
		}
	}
}
