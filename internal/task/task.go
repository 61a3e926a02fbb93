// Package task defines the cooperative task model shared by the scheduler
// and the managed activities. A task performs bounded work in Step calls and
// never blocks; multi-tick work is expressed through internal progress state.
package task

import "time"

// State is the lifecycle state of a managed task.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Code identifies a failure cause. The declaration order is the severity
// ranking: a later code outranks an earlier one when the supervisor decides
// which single error to surface.
type Code uint8

const (
	CodeNone Code = iota
	CodeSensorDHT
	CodeSensorSoil
	CodeSensorRain
	CodeSensorAir
	CodeSensorLight
	CodeActuator
	CodeConnectivity
	CodeRemoteService
	CodeTimeSync
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeSensorDHT:
		return "sensor_dht"
	case CodeSensorSoil:
		return "sensor_soil"
	case CodeSensorRain:
		return "sensor_rain"
	case CodeSensorAir:
		return "sensor_air"
	case CodeSensorLight:
		return "sensor_light"
	case CodeActuator:
		return "actuator"
	case CodeConnectivity:
		return "connectivity"
	case CodeRemoteService:
		return "remote_service"
	case CodeTimeSync:
		return "time_sync"
	default:
		return "unknown"
	}
}

// Outranks reports whether c is more severe than other.
func (c Code) Outranks(other Code) bool {
	return c > other
}

// Outcome is the result of one Step invocation.
type Outcome struct {
	// Done is true when the task's current cycle has finished, successfully
	// or not. False means the task is still running and will be stepped
	// again next tick.
	Done bool
	// Code is the failure cause for a finished cycle, CodeNone on success.
	// Ignored while Done is false.
	Code Code
}

// Continue reports a still-running cycle.
func Continue() Outcome { return Outcome{} }

// Complete reports a successfully finished cycle.
func Complete() Outcome { return Outcome{Done: true} }

// Fail reports a finished cycle that ended in failure.
func Fail(code Code) Outcome { return Outcome{Done: true, Code: code} }

// Runner is one managed activity. Step must return within a small bounded
// slice; anything with natural latency above that runs in the background and
// is polled on later ticks.
type Runner interface {
	Name() string
	Cadence() time.Duration
	Step(now time.Time) Outcome
}
