package model

import "time"

// TriggerReason records which condition kind tipped a reminder into firing.
type TriggerReason string

const (
	// ReasonTime marks a trigger caused by a time condition.
	ReasonTime TriggerReason = "time"
	// ReasonLocation marks a trigger caused by a geofence transition.
	ReasonLocation TriggerReason = "location"
	// ReasonBattery marks a trigger caused by a battery condition.
	ReasonBattery TriggerReason = "battery"
	// ReasonManual marks a trigger requested directly by the user.
	ReasonManual TriggerReason = "manual"
)

// ChargingState is the device's power connection state.
type ChargingState string

const (
	// Charging means the device is connected and gaining charge.
	Charging ChargingState = "charging"
	// Discharging means the device is running on battery.
	Discharging ChargingState = "discharging"
	// Full means the device is connected at 100%.
	Full ChargingState = "full"
)

// Position is a single location fix in decimal degrees.
type Position struct {
	Latitude  float64
	Longitude float64

	// AccuracyMeters is the reported GPS accuracy radius. Zero when unknown.
	AccuracyMeters float64

	// At is when the fix was taken, used for staleness decisions.
	At time.Time
}

// BatteryState is a single battery reading.
type BatteryState struct {
	// Level is the charge percentage, 0..100.
	Level int

	// Charging is the power connection state.
	Charging ChargingState

	// LowPower is true when the OS low-power mode is active.
	LowPower bool

	// At is when the reading was taken.
	At time.Time
}

// SensorSnapshot is the immutable input to one evaluation pass. It is
// assembled by the coordinator before the pass and never mutated during it.
// Position and Battery may be nil when a source has never produced a value;
// the evaluator treats the affected condition kinds as not satisfied.
type SensorSnapshot struct {
	Position *Position
	Battery  *BatteryState

	// Now is the pass's wall-clock time. Every time comparison in the pass
	// uses this value so the pass is reproducible.
	Now time.Time
}

// TransitionKind is the direction of a geofence membership change.
type TransitionKind string

const (
	// Entered is an outside→inside transition.
	Entered TransitionKind = "entered"
	// Exited is an inside→outside transition.
	Exited TransitionKind = "exited"
)

// Transition is a single edge-triggered geofence event produced by the
// tracker and consumed by the evaluator on the same pass.
type Transition struct {
	// RegionID identifies the region; regions are keyed by reminder ID since
	// each reminder carries at most one location condition.
	RegionID string

	Kind TransitionKind

	// DistanceMeters is the sample's distance from the region center.
	DistanceMeters float64

	At time.Time
}

// Matches reports whether the transition is relevant to a condition's
// configured transition type.
func (t *Transition) Matches(want TransitionType) bool {
	switch want {
	case TransitionBoth:
		return true
	case TransitionEnter:
		return t.Kind == Entered
	case TransitionExit:
		return t.Kind == Exited
	default:
		return false
	}
}
