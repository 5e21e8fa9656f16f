// Package model defines shared types used across the engine, store, and
// adapters.
package model

import (
	"fmt"
	"time"
)

// Reminder is a user-defined alarm rule. The engine treats it as read-only
// except for LastTriggeredAt and SnoozeCount, which it updates through the
// store after each trigger or snooze.
type Reminder struct {
	// ID is the store-assigned unique identifier.
	ID string

	// Title is the reminder's display title, used as the notification headline.
	Title string

	// Notes is optional free-form body text.
	Notes string

	// Rule holds the conditions that must all be satisfied on the same
	// evaluation pass for the reminder to fire.
	Rule Rule

	// Enabled gates evaluation. Disabled reminders are skipped entirely and
	// their geofence membership is discarded.
	Enabled bool

	// LastTriggeredAt is when the reminder last fired. Nil means never.
	LastTriggeredAt *time.Time

	// SnoozeCount is the number of snoozes on the current or most recent
	// alarm session. Reset to zero when a new session is triggered.
	SnoozeCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Rule combines up to one condition of each kind with AND semantics: every
// condition that is present must hold on the same pass. A rule with no
// conditions is invalid and never satisfied.
type Rule struct {
	Time     *TimeCondition
	Location *LocationCondition
	Battery  *BatteryCondition
}

// Empty reports whether the rule has no conditions at all.
func (r Rule) Empty() bool {
	return r.Time == nil && r.Location == nil && r.Battery == nil
}

// Validate checks every present condition and rejects empty rules.
func (r Rule) Validate() error {
	if r.Empty() {
		return fmt.Errorf("rule has no conditions")
	}
	if r.Time != nil {
		if err := r.Time.Validate(); err != nil {
			return fmt.Errorf("time condition: %w", err)
		}
	}
	if r.Location != nil {
		if err := r.Location.Validate(); err != nil {
			return fmt.Errorf("location condition: %w", err)
		}
	}
	if r.Battery != nil {
		if err := r.Battery.Validate(); err != nil {
			return fmt.Errorf("battery condition: %w", err)
		}
	}
	return nil
}

// --- Time conditions ---------------------------------------------------------

// TimeKind selects which variant of a TimeCondition is populated.
type TimeKind string

const (
	// TimeInstant fires once when the wall clock reaches a fixed instant.
	TimeInstant TimeKind = "instant"
	// TimeRecurrence fires once per period (daily, weekly, or fixed interval).
	TimeRecurrence TimeKind = "recurrence"
	// TimeWindow is satisfied while the time of day falls inside a window.
	TimeWindow TimeKind = "window"
)

// TimeCondition is one of: a fixed instant, a recurrence, or a time-of-day
// window. Exactly one variant matching Kind must be set.
type TimeCondition struct {
	Kind TimeKind

	// At is the fixed instant for TimeInstant.
	At *time.Time

	// Recurrence is the schedule for TimeRecurrence.
	Recurrence *Recurrence

	// Windows are the half-open [Start, End) intervals for TimeWindow.
	// A window spanning midnight is stored as two intervals; use
	// [SplitWindow] to build them.
	Windows []Window
}

// Validate checks the variant selected by Kind.
func (c *TimeCondition) Validate() error {
	switch c.Kind {
	case TimeInstant:
		if c.At == nil {
			return fmt.Errorf("instant condition has no time")
		}
	case TimeRecurrence:
		if c.Recurrence == nil {
			return fmt.Errorf("recurrence condition has no schedule")
		}
		return c.Recurrence.Validate()
	case TimeWindow:
		if len(c.Windows) == 0 {
			return fmt.Errorf("window condition has no intervals")
		}
		for _, w := range c.Windows {
			if err := w.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown time condition kind %q", c.Kind)
	}
	return nil
}

// RecurrenceUnit is the period of a recurrence.
type RecurrenceUnit string

const (
	// RecurDaily fires at TimeOfDay every day.
	RecurDaily RecurrenceUnit = "daily"
	// RecurWeekly fires at TimeOfDay on Weekday every week.
	RecurWeekly RecurrenceUnit = "weekly"
	// RecurInterval fires every Every, anchored on the previous trigger.
	RecurInterval RecurrenceUnit = "interval"
)

// Recurrence describes a repeating schedule.
type Recurrence struct {
	Unit RecurrenceUnit

	// TimeOfDay is the scheduled minute for daily and weekly recurrences.
	TimeOfDay MinuteOfDay

	// Weekday applies to weekly recurrences only.
	Weekday time.Weekday

	// Every is the period for interval recurrences. Minimum one minute.
	Every time.Duration
}

// Validate checks the fields required by Unit.
func (r *Recurrence) Validate() error {
	switch r.Unit {
	case RecurDaily, RecurWeekly:
		if err := r.TimeOfDay.Validate(); err != nil {
			return err
		}
	case RecurInterval:
		if r.Every < time.Minute {
			return fmt.Errorf("interval %v is too short (minimum 1m)", r.Every)
		}
	default:
		return fmt.Errorf("unknown recurrence unit %q", r.Unit)
	}
	return nil
}

// MinuteOfDay is a clock time expressed as minutes since local midnight,
// 0 .. 1439.
type MinuteOfDay int

// Validate checks the 0..1439 range.
func (m MinuteOfDay) Validate() error {
	if m < 0 || m > 1439 {
		return fmt.Errorf("minute of day %d out of range 0..1439", m)
	}
	return nil
}

// String formats the minute as "HH:MM".
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// MinuteOf converts a wall-clock time to its minute of day in t's location.
func MinuteOf(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

// Window is a half-open [Start, End) time-of-day interval.
// Invariant: Start <= End.
type Window struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

// Validate checks the range and ordering invariants.
func (w Window) Validate() error {
	if err := w.Start.Validate(); err != nil {
		return err
	}
	if w.End < 0 || w.End > 1440 {
		return fmt.Errorf("window end %d out of range 0..1440", w.End)
	}
	if w.Start > w.End {
		return fmt.Errorf("window start %s is after end %s", w.Start, MinuteOfDay(w.End))
	}
	return nil
}

// Contains reports whether m falls inside the half-open interval.
func (w Window) Contains(m MinuteOfDay) bool {
	return m >= w.Start && m < w.End
}

// SplitWindow builds the interval set for a start/end pair, splitting a
// window that spans midnight (start > end) into two half-open intervals.
func SplitWindow(start, end MinuteOfDay) []Window {
	if start > end {
		return []Window{
			{Start: start, End: 1440},
			{Start: 0, End: end},
		}
	}
	return []Window{{Start: start, End: end}}
}

// --- Location condition ------------------------------------------------------

// TransitionType selects which geofence transitions a location condition
// reacts to.
type TransitionType string

const (
	// TransitionEnter reacts to outside→inside transitions.
	TransitionEnter TransitionType = "enter"
	// TransitionExit reacts to inside→outside transitions.
	TransitionExit TransitionType = "exit"
	// TransitionBoth reacts to either.
	TransitionBoth TransitionType = "both"
)

// Radius bounds in meters for a geofence region.
const (
	MinRadiusMeters = 50
	MaxRadiusMeters = 1000
)

// LocationCondition fires on a geofence transition for a circular region.
type LocationCondition struct {
	// Latitude and Longitude locate the region center in decimal degrees.
	Latitude  float64
	Longitude float64

	// RadiusMeters is the region radius, MinRadiusMeters..MaxRadiusMeters.
	RadiusMeters float64

	// Transition selects enter, exit, or both.
	Transition TransitionType
}

// Validate checks coordinate and radius ranges.
func (c *LocationCondition) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range -90..90", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range -180..180", c.Longitude)
	}
	if c.RadiusMeters < MinRadiusMeters || c.RadiusMeters > MaxRadiusMeters {
		return fmt.Errorf("radius %vm out of range %d..%dm", c.RadiusMeters, MinRadiusMeters, MaxRadiusMeters)
	}
	switch c.Transition {
	case TransitionEnter, TransitionExit, TransitionBoth:
	default:
		return fmt.Errorf("unknown transition type %q", c.Transition)
	}
	return nil
}

// --- Battery condition -------------------------------------------------------

// BatteryComparison is the comparison kind of a battery condition.
type BatteryComparison string

const (
	// BatteryAbove is satisfied when level > Threshold.
	BatteryAbove BatteryComparison = "above"
	// BatteryBelow is satisfied when level < Threshold.
	BatteryBelow BatteryComparison = "below"
	// BatteryEquals is satisfied when level == Threshold.
	BatteryEquals BatteryComparison = "equals"
	// BatteryBetween is satisfied when Threshold <= level <= ThresholdHigh.
	BatteryBetween BatteryComparison = "between"
)

// BatteryCondition fires on battery level and charging state.
type BatteryCondition struct {
	Comparison BatteryComparison

	// Threshold is the level bound (the low bound for BatteryBetween).
	Threshold int

	// ThresholdHigh is the high bound, used by BatteryBetween only.
	// Invariant: Threshold <= ThresholdHigh.
	ThresholdHigh int

	// Charging, when non-nil, requires the device's charging state to match.
	Charging *ChargingState

	// LowPower, when non-nil, requires low-power mode to match.
	LowPower *bool
}

// Validate checks threshold ranges and the between ordering invariant.
func (c *BatteryCondition) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold %d out of range 0..100", c.Threshold)
	}
	switch c.Comparison {
	case BatteryAbove, BatteryBelow, BatteryEquals:
	case BatteryBetween:
		if c.ThresholdHigh < 0 || c.ThresholdHigh > 100 {
			return fmt.Errorf("high threshold %d out of range 0..100", c.ThresholdHigh)
		}
		if c.Threshold > c.ThresholdHigh {
			return fmt.Errorf("between bounds inverted: %d > %d", c.Threshold, c.ThresholdHigh)
		}
	default:
		return fmt.Errorf("unknown battery comparison %q", c.Comparison)
	}
	return nil
}
