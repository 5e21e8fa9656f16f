package rule

import (
	"testing"
	"time"

	"github.com/njoerd114/geoalarm/internal/model"
)

var noon = time.Date(2026, 6, 3, 12, 0, 0, 0, time.UTC) // a Wednesday

func snapshot(now time.Time) model.SensorSnapshot {
	return model.SensorSnapshot{Now: now}
}

func batterySnapshot(now time.Time, level int, charging model.ChargingState, lowPower bool) model.SensorSnapshot {
	return model.SensorSnapshot{
		Battery: &model.BatteryState{Level: level, Charging: charging, LowPower: lowPower, At: now},
		Now:     now,
	}
}

func instantReminder(at time.Time) *model.Reminder {
	return &model.Reminder{
		ID:      "rem-1",
		Title:   "x",
		Enabled: true,
		Rule:    model.Rule{Time: &model.TimeCondition{Kind: model.TimeInstant, At: &at}},
	}
}

func TestEvaluate_EmptyRuleNeverSatisfied(t *testing.T) {
	rem := &model.Reminder{ID: "rem-1", Enabled: true}
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Errorf("empty rule satisfied: %+v", v)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	rem := instantReminder(noon.Add(-time.Hour))
	snap := snapshot(noon)

	first := Evaluate(rem, snap, nil)
	second := Evaluate(rem, snap, nil)
	if first != second {
		t.Errorf("same inputs produced different verdicts: %+v vs %+v", first, second)
	}
	if !first.Satisfied || first.Reason != model.ReasonTime {
		t.Errorf("verdict = %+v, want satisfied with time reason", first)
	}
}

// --- Instant -----------------------------------------------------------------

func TestInstant_NotYetDue(t *testing.T) {
	rem := instantReminder(noon.Add(time.Minute))
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("instant in the future should not fire")
	}
}

func TestInstant_ConsumedByTrigger(t *testing.T) {
	at := noon.Add(-time.Hour)
	rem := instantReminder(at)

	if v := Evaluate(rem, snapshot(noon), nil); !v.Satisfied {
		t.Fatal("due instant should fire")
	}

	fired := noon.Add(-30 * time.Minute)
	rem.LastTriggeredAt = &fired
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("instant should be consumed after a trigger at or after it")
	}

	// A trigger from before the instant does not consume it.
	old := at.Add(-24 * time.Hour)
	rem.LastTriggeredAt = &old
	if v := Evaluate(rem, snapshot(noon), nil); !v.Satisfied {
		t.Error("trigger predating the instant should not consume it")
	}
}

// --- Window ------------------------------------------------------------------

func windowReminder(start, end model.MinuteOfDay) *model.Reminder {
	return &model.Reminder{
		ID:      "rem-1",
		Enabled: true,
		Rule: model.Rule{Time: &model.TimeCondition{
			Kind:    model.TimeWindow,
			Windows: model.SplitWindow(start, end),
		}},
	}
}

func TestWindow_InsideAndOutside(t *testing.T) {
	rem := windowReminder(9*60, 17*60) // 09:00-17:00

	if v := Evaluate(rem, snapshot(noon), nil); !v.Satisfied {
		t.Error("noon should be inside 09:00-17:00")
	}
	evening := time.Date(2026, 6, 3, 18, 0, 0, 0, time.UTC)
	if v := Evaluate(rem, snapshot(evening), nil); v.Satisfied {
		t.Error("18:00 should be outside 09:00-17:00")
	}
}

func TestWindow_EndIsExclusive(t *testing.T) {
	rem := windowReminder(9*60, 12*60) // [09:00, 12:00)
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("window end must be exclusive")
	}
}

func TestWindow_SameDayCooldown(t *testing.T) {
	rem := windowReminder(9*60, 17*60)

	fired := time.Date(2026, 6, 3, 9, 30, 0, 0, time.UTC)
	rem.LastTriggeredAt = &fired
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("window should not re-fire on the day it already fired")
	}

	nextDay := time.Date(2026, 6, 4, 12, 0, 0, 0, time.UTC)
	if v := Evaluate(rem, snapshot(nextDay), nil); !v.Satisfied {
		t.Error("window should fire again the next day")
	}
}

func TestWindow_SpansMidnight(t *testing.T) {
	rem := windowReminder(22*60, 6*60) // 22:00-06:00

	lateNight := time.Date(2026, 6, 3, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 6, 3, 5, 0, 0, 0, time.UTC)
	if v := Evaluate(rem, snapshot(lateNight), nil); !v.Satisfied {
		t.Error("23:30 should be inside 22:00-06:00")
	}
	if v := Evaluate(rem, snapshot(earlyMorning), nil); !v.Satisfied {
		t.Error("05:00 should be inside 22:00-06:00")
	}
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("noon should be outside 22:00-06:00")
	}
}

// --- Recurrence --------------------------------------------------------------

func TestRecurrence_DailyConsumedPerOccurrence(t *testing.T) {
	rem := &model.Reminder{
		ID:      "rem-1",
		Enabled: true,
		Rule: model.Rule{Time: &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurDaily, TimeOfDay: 8 * 60},
		}},
	}

	beforeSlot := time.Date(2026, 6, 3, 7, 0, 0, 0, time.UTC)
	afterSlot := time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC)

	// At 07:00 the most recent occurrence is yesterday 08:00; a trigger
	// yesterday evening consumed it.
	y := time.Date(2026, 6, 2, 20, 0, 0, 0, time.UTC)
	rem.LastTriggeredAt = &y
	if v := Evaluate(rem, snapshot(beforeSlot), nil); v.Satisfied {
		t.Error("yesterday's occurrence already consumed")
	}

	// After today's 08:00 slot the occurrence is fresh again.
	if v := Evaluate(rem, snapshot(afterSlot), nil); !v.Satisfied {
		t.Error("today's occurrence should fire")
	}

	fired := time.Date(2026, 6, 3, 8, 0, 5, 0, time.UTC)
	rem.LastTriggeredAt = &fired
	if v := Evaluate(rem, snapshot(afterSlot), nil); v.Satisfied {
		t.Error("today's occurrence should be consumed after firing")
	}
}

func TestRecurrence_Weekly(t *testing.T) {
	rem := &model.Reminder{
		ID:      "rem-1",
		Enabled: true,
		Rule: model.Rule{Time: &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurWeekly, Weekday: time.Monday, TimeOfDay: 8 * 60},
		}},
	}

	// noon is Wednesday; the most recent occurrence is Monday 08:00.
	if v := Evaluate(rem, snapshot(noon), nil); !v.Satisfied {
		t.Fatal("unconsumed weekly occurrence should fire")
	}

	monday := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	rem.LastTriggeredAt = &monday
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("occurrence consumed by Monday's trigger")
	}

	nextMonday := time.Date(2026, 6, 8, 8, 0, 0, 0, time.UTC)
	if v := Evaluate(rem, snapshot(nextMonday), nil); !v.Satisfied {
		t.Error("next week's occurrence should fire")
	}
}

func TestRecurrence_Interval(t *testing.T) {
	rem := &model.Reminder{
		ID:      "rem-1",
		Enabled: true,
		Rule: model.Rule{Time: &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurInterval, Every: 4 * time.Hour},
		}},
	}

	// Never fired: due immediately.
	if v := Evaluate(rem, snapshot(noon), nil); !v.Satisfied {
		t.Error("interval with no prior trigger should fire")
	}

	last := noon.Add(-2 * time.Hour)
	rem.LastTriggeredAt = &last
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("interval not yet elapsed")
	}

	last = noon.Add(-4 * time.Hour)
	rem.LastTriggeredAt = &last
	if v := Evaluate(rem, snapshot(noon), nil); !v.Satisfied {
		t.Error("exactly one interval elapsed should fire")
	}
}

// --- Location ----------------------------------------------------------------

func locationReminder(transition model.TransitionType) *model.Reminder {
	return &model.Reminder{
		ID:      "rem-1",
		Enabled: true,
		Rule: model.Rule{Location: &model.LocationCondition{
			Latitude: 0, Longitude: 0, RadiusMeters: 100, Transition: transition,
		}},
	}
}

func TestLocation_RequiresTransitionThisPass(t *testing.T) {
	rem := locationReminder(model.TransitionEnter)

	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("no transition should mean not satisfied")
	}

	trn := &model.Transition{RegionID: "rem-1", Kind: model.Entered, At: noon}
	v := Evaluate(rem, snapshot(noon), trn)
	if !v.Satisfied || v.Reason != model.ReasonLocation {
		t.Errorf("verdict = %+v, want satisfied with location reason", v)
	}

	// The transition is consumed by the pass; without a new one the next
	// pass sees nil again.
	if v := Evaluate(rem, snapshot(noon.Add(time.Minute)), nil); v.Satisfied {
		t.Error("steady state inside the region must not re-fire")
	}
}

func TestLocation_TransitionKindMustMatch(t *testing.T) {
	exit := &model.Transition{RegionID: "rem-1", Kind: model.Exited, At: noon}
	enter := &model.Transition{RegionID: "rem-1", Kind: model.Entered, At: noon}

	if v := Evaluate(locationReminder(model.TransitionEnter), snapshot(noon), exit); v.Satisfied {
		t.Error("exit transition should not satisfy an enter condition")
	}
	if v := Evaluate(locationReminder(model.TransitionExit), snapshot(noon), enter); v.Satisfied {
		t.Error("enter transition should not satisfy an exit condition")
	}
	if v := Evaluate(locationReminder(model.TransitionBoth), snapshot(noon), exit); !v.Satisfied {
		t.Error("both should accept an exit transition")
	}
}

func TestLocation_ForeignTransitionIgnored(t *testing.T) {
	rem := locationReminder(model.TransitionEnter)
	trn := &model.Transition{RegionID: "rem-2", Kind: model.Entered, At: noon}
	if v := Evaluate(rem, snapshot(noon), trn); v.Satisfied {
		t.Error("another reminder's transition must not satisfy this one")
	}
}

// --- Battery -----------------------------------------------------------------

func batteryReminder(cond model.BatteryCondition) *model.Reminder {
	return &model.Reminder{ID: "rem-1", Enabled: true, Rule: model.Rule{Battery: &cond}}
}

func TestBattery_BelowThresholdScenario(t *testing.T) {
	rem := batteryReminder(model.BatteryCondition{Comparison: model.BatteryBelow, Threshold: 20})

	for _, tc := range []struct {
		level int
		want  bool
	}{
		{25, false},
		{20, false}, // strict comparison
		{15, true},
		{10, true},
	} {
		v := Evaluate(rem, batterySnapshot(noon, tc.level, model.Discharging, false), nil)
		if v.Satisfied != tc.want {
			t.Errorf("level %d: satisfied = %v, want %v", tc.level, v.Satisfied, tc.want)
		}
	}
}

func TestBattery_Comparisons(t *testing.T) {
	snap := func(level int) model.SensorSnapshot {
		return batterySnapshot(noon, level, model.Discharging, false)
	}

	above := batteryReminder(model.BatteryCondition{Comparison: model.BatteryAbove, Threshold: 80})
	if Evaluate(above, snap(80), nil).Satisfied {
		t.Error("above is strict")
	}
	if !Evaluate(above, snap(81), nil).Satisfied {
		t.Error("81 > 80 should satisfy")
	}

	equals := batteryReminder(model.BatteryCondition{Comparison: model.BatteryEquals, Threshold: 50})
	if !Evaluate(equals, snap(50), nil).Satisfied || Evaluate(equals, snap(51), nil).Satisfied {
		t.Error("equals matches the exact integer level only")
	}

	between := batteryReminder(model.BatteryCondition{Comparison: model.BatteryBetween, Threshold: 20, ThresholdHigh: 50})
	for level, want := range map[int]bool{19: false, 20: true, 35: true, 50: true, 51: false} {
		if got := Evaluate(between, snap(level), nil).Satisfied; got != want {
			t.Errorf("between at %d = %v, want %v", level, got, want)
		}
	}
}

func TestBattery_ChargingAndLowPowerFilters(t *testing.T) {
	charging := model.Charging
	lowPower := true
	rem := batteryReminder(model.BatteryCondition{
		Comparison: model.BatteryBelow,
		Threshold:  50,
		Charging:   &charging,
		LowPower:   &lowPower,
	})

	if Evaluate(rem, batterySnapshot(noon, 30, model.Discharging, true), nil).Satisfied {
		t.Error("charging filter should reject a discharging reading")
	}
	if Evaluate(rem, batterySnapshot(noon, 30, model.Charging, false), nil).Satisfied {
		t.Error("low-power filter should reject low-power off")
	}
	if !Evaluate(rem, batterySnapshot(noon, 30, model.Charging, true), nil).Satisfied {
		t.Error("all filters matching should satisfy")
	}
}

func TestBattery_NoReadingNeverSatisfied(t *testing.T) {
	rem := batteryReminder(model.BatteryCondition{Comparison: model.BatteryBelow, Threshold: 99})
	if v := Evaluate(rem, snapshot(noon), nil); v.Satisfied {
		t.Error("missing battery reading must not satisfy")
	}
}

// --- Composite ---------------------------------------------------------------

func TestComposite_AllMustHoldSamePass(t *testing.T) {
	rem := &model.Reminder{
		ID:      "rem-1",
		Enabled: true,
		Rule: model.Rule{
			Time:     &model.TimeCondition{Kind: model.TimeWindow, Windows: model.SplitWindow(9*60, 17*60)},
			Location: &model.LocationCondition{Latitude: 0, Longitude: 0, RadiusMeters: 100, Transition: model.TransitionEnter},
			Battery:  &model.BatteryCondition{Comparison: model.BatteryAbove, Threshold: 10},
		},
	}

	trn := &model.Transition{RegionID: "rem-1", Kind: model.Entered, At: noon}
	good := batterySnapshot(noon, 80, model.Discharging, false)

	v := Evaluate(rem, good, trn)
	if !v.Satisfied {
		t.Fatal("all conditions holding should satisfy")
	}
	// Location is the most specific cause and wins the reason.
	if v.Reason != model.ReasonLocation {
		t.Errorf("reason = %v, want location", v.Reason)
	}

	// Any one condition failing sinks the pass.
	if Evaluate(rem, batterySnapshot(noon, 5, model.Discharging, false), trn).Satisfied {
		t.Error("failing battery should sink the composite")
	}
	evening := batterySnapshot(time.Date(2026, 6, 3, 20, 0, 0, 0, time.UTC), 80, model.Discharging, false)
	if Evaluate(rem, evening, &model.Transition{RegionID: "rem-1", Kind: model.Entered, At: evening.Now}).Satisfied {
		t.Error("failing window should sink the composite")
	}
	if Evaluate(rem, good, nil).Satisfied {
		t.Error("missing transition should sink the composite")
	}
}
