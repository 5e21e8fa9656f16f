// Package rule implements the pure condition evaluator: given a reminder's
// rule and one sensor snapshot, decide whether the reminder is satisfied on
// this pass.
//
// Evaluate has no hidden state and no side effects. Calling it twice with the
// same inputs yields the same verdict, which is what lets the coordinator
// re-run passes freely and rely on the alarm state machine for duplicate
// suppression.
package rule

import (
	"time"

	"github.com/njoerd114/geoalarm/internal/model"
)

// Verdict is the outcome of evaluating one reminder on one pass.
type Verdict struct {
	Satisfied bool

	// Reason is the condition kind credited with the trigger. Only
	// meaningful when Satisfied is true. When several condition kinds are
	// present, location wins over time over battery, since the transition is
	// the most specific cause.
	Reason model.TriggerReason
}

// NotSatisfied is the zero verdict.
var NotSatisfied = Verdict{}

// Evaluate applies the reminder's rule to the snapshot. transition is the
// geofence event produced for this reminder on this pass, or nil; the
// evaluator never re-derives membership itself.
//
// All present conditions must hold simultaneously. A reminder with an empty
// rule is never satisfied.
func Evaluate(rem *model.Reminder, snap model.SensorSnapshot, transition *model.Transition) Verdict {
	r := rem.Rule
	if r.Empty() {
		return NotSatisfied
	}

	reason := model.ReasonBattery

	if r.Battery != nil && !batterySatisfied(r.Battery, snap.Battery) {
		return NotSatisfied
	}
	if r.Time != nil {
		if !timeSatisfied(r.Time, rem.LastTriggeredAt, snap.Now) {
			return NotSatisfied
		}
		reason = model.ReasonTime
	}
	if r.Location != nil {
		if transition == nil || transition.RegionID != rem.ID || !transition.Matches(r.Location.Transition) {
			return NotSatisfied
		}
		reason = model.ReasonLocation
	}

	return Verdict{Satisfied: true, Reason: reason}
}

// --- Time -------------------------------------------------------------------

func timeSatisfied(c *model.TimeCondition, lastTriggered *time.Time, now time.Time) bool {
	switch c.Kind {
	case model.TimeInstant:
		if c.At == nil || now.Before(*c.At) {
			return false
		}
		// Consumed once: a previous trigger at or after the instant means
		// this condition already fired.
		return lastTriggered == nil || lastTriggered.Before(*c.At)

	case model.TimeRecurrence:
		return recurrenceSatisfied(c.Recurrence, lastTriggered, now)

	case model.TimeWindow:
		m := model.MinuteOf(now)
		inside := false
		for _, w := range c.Windows {
			if w.Contains(m) {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
		// Inside the window every pass is a fresh candidate; a trigger
		// earlier the same local day acts as the cooldown so a dismissed
		// window alarm does not come straight back.
		return lastTriggered == nil || !sameDay(*lastTriggered, now)
	}
	return false
}

// recurrenceSatisfied reports whether the most recent scheduled occurrence at
// or before now has not yet been consumed by a trigger.
func recurrenceSatisfied(r *model.Recurrence, lastTriggered *time.Time, now time.Time) bool {
	if r == nil {
		return false
	}

	switch r.Unit {
	case model.RecurInterval:
		if lastTriggered == nil {
			// Never fired: the first full interval has trivially elapsed.
			return true
		}
		return !now.Before(lastTriggered.Add(r.Every))

	case model.RecurDaily, model.RecurWeekly:
		occ, ok := lastOccurrence(r, now)
		if !ok {
			return false
		}
		return lastTriggered == nil || lastTriggered.Before(occ)
	}
	return false
}

// lastOccurrence computes the most recent scheduled instant at or before now.
// ok is false when the schedule has no occurrence yet (cannot happen for
// daily/weekly, kept for safety).
func lastOccurrence(r *model.Recurrence, now time.Time) (time.Time, bool) {
	y, mo, d := now.Date()
	occ := time.Date(y, mo, d, int(r.TimeOfDay)/60, int(r.TimeOfDay)%60, 0, 0, now.Location())

	switch r.Unit {
	case model.RecurDaily:
		if occ.After(now) {
			occ = occ.AddDate(0, 0, -1)
		}
		return occ, true

	case model.RecurWeekly:
		// Walk back to the scheduled weekday, then back one more week if
		// today's slot is still ahead.
		diff := int(occ.Weekday() - r.Weekday)
		if diff < 0 {
			diff += 7
		}
		occ = occ.AddDate(0, 0, -diff)
		if occ.After(now) {
			occ = occ.AddDate(0, 0, -7)
		}
		return occ, true
	}
	return time.Time{}, false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// --- Battery ----------------------------------------------------------------

func batterySatisfied(c *model.BatteryCondition, b *model.BatteryState) bool {
	if b == nil {
		// No reading yet — never satisfied rather than guessing.
		return false
	}

	ok := false
	switch c.Comparison {
	case model.BatteryAbove:
		ok = b.Level > c.Threshold
	case model.BatteryBelow:
		ok = b.Level < c.Threshold
	case model.BatteryEquals:
		ok = b.Level == c.Threshold
	case model.BatteryBetween:
		ok = b.Level >= c.Threshold && b.Level <= c.ThresholdHigh
	}
	if !ok {
		return false
	}

	if c.Charging != nil && b.Charging != *c.Charging {
		return false
	}
	if c.LowPower != nil && b.LowPower != *c.LowPower {
		return false
	}
	return true
}
