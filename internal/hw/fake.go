package hw

import (
	"errors"
	"sync"
)

// FakeChannels is a test double returning scripted raw values per channel.
type FakeChannels struct {
	mu sync.Mutex

	// Values holds scripted readings per channel. Each ReadChannel call
	// consumes the next value; the last value repeats once exhausted.
	Values map[Channel][]int

	// Errors, if set for a channel, is returned instead of a value.
	Errors map[Channel]error

	// Closed tracks whether Close was called.
	Closed bool

	index map[Channel]int
}

// NewFakeChannels creates a FakeChannels with the given scripted values.
func NewFakeChannels(values map[Channel][]int) *FakeChannels {
	return &FakeChannels{
		Values: values,
		Errors: make(map[Channel]error),
		index:  make(map[Channel]int),
	}
}

// Set replaces the script for a channel with a single repeating value.
func (f *FakeChannels) Set(ch Channel, v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values[ch] = []int{v}
	f.index[ch] = 0
}

func (f *FakeChannels) ReadChannel(ch Channel) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[ch]; err != nil {
		return 0, err
	}
	vals := f.Values[ch]
	if len(vals) == 0 {
		return 0, errors.New("no samples configured for " + string(ch))
	}
	i := f.index[ch]
	if i < len(vals)-1 {
		f.index[ch] = i + 1
	}
	return vals[i], nil
}

func (f *FakeChannels) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeProbe is a test double for the combined temperature/humidity probe.
type FakeProbe struct {
	mu sync.Mutex

	Temperature float64
	Humidity    float64

	// FailCount makes the next N reads fail, mimicking the settle behaviour
	// of this sensor class right after power-up.
	FailCount int

	// ReadErr is the error returned while FailCount > 0.
	ReadErr error

	Reads  int
	Closed bool
}

func (f *FakeProbe) Read() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.FailCount > 0 {
		f.FailCount--
		err := f.ReadErr
		if err == nil {
			err = errors.New("probe not ready")
		}
		return 0, 0, err
	}
	return f.Temperature, f.Humidity, nil
}

func (f *FakeProbe) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeActuator records every output transition.
type FakeActuator struct {
	mu sync.Mutex

	On          bool
	Transitions []bool
	SetErr      error
	Closed      bool
}

func (f *FakeActuator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil && on {
		// Releasing the valve always succeeds, engaging it may not.
		return f.SetErr
	}
	f.On = on
	f.Transitions = append(f.Transitions, on)
	return nil
}

func (f *FakeActuator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.On = false
	f.Closed = true
	return nil
}

// State returns the current output level.
func (f *FakeActuator) State() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On
}
