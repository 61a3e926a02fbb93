// Package hw abstracts the physical inputs and outputs of the controller.
// Real implementations talk to the board; fakes allow the control logic to be
// tested without hardware.
package hw

// Raw ADC range for the independent analog channels.
const (
	RawMin = 0
	RawMax = 1023
)

// Channel identifies one raw analog input.
type Channel string

const (
	ChannelLight      Channel = "light"
	ChannelRain       Channel = "rain"
	ChannelAirQuality Channel = "air_quality"
	ChannelSoil       Channel = "soil_moisture"
)

// Channels lists every analog channel in acquisition order.
var Channels = []Channel{ChannelLight, ChannelRain, ChannelAirQuality, ChannelSoil}

// ChannelReader reads raw analog channel values.
type ChannelReader interface {
	// ReadChannel returns the raw value for a channel. Values outside
	// [RawMin, RawMax] indicate a wiring or converter fault and are rejected
	// by the acquisition layer.
	ReadChannel(ch Channel) (int, error)

	// Close releases channel resources.
	Close() error
}

// CombinedProbe reads the combined temperature/humidity sensor. The two
// values come from one part and are co-valid or co-invalid.
type CombinedProbe interface {
	// Read returns temperature in degrees C and relative humidity in percent.
	Read() (temperature, humidity float64, err error)

	// Close releases probe resources.
	Close() error
}

// Actuator drives the binary water valve output.
type Actuator interface {
	// Set drives the output. Set(false) must always succeed in releasing the
	// valve even after a prior error.
	Set(on bool) error

	// Close releases the output, driving it low first.
	Close() error
}
