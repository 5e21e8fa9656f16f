package store

import (
	"time"

	"github.com/njoerd114/geoalarm/internal/model"
)

// ruleRow is the JSON representation of a [model.Rule] in the reminders
// table. Kept separate from the model types so the column format can evolve
// without touching the engine.
type ruleRow struct {
	Time     *timeRow     `json:"time,omitempty"`
	Location *locationRow `json:"location,omitempty"`
	Battery  *batteryRow  `json:"battery,omitempty"`
}

type timeRow struct {
	Kind string `json:"kind"`

	At *time.Time `json:"at,omitempty"`

	RecurUnit      string `json:"recur_unit,omitempty"`
	RecurTimeOfDay int    `json:"recur_time_of_day,omitempty"`
	RecurWeekday   int    `json:"recur_weekday,omitempty"`
	RecurEverySec  int64  `json:"recur_every_sec,omitempty"`

	Windows []windowRow `json:"windows,omitempty"`
}

type windowRow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type locationRow struct {
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	RadiusMeters float64 `json:"radius_m"`
	Transition   string  `json:"transition"`
}

type batteryRow struct {
	Comparison    string  `json:"comparison"`
	Threshold     int     `json:"threshold"`
	ThresholdHigh int     `json:"threshold_high,omitempty"`
	Charging      *string `json:"charging,omitempty"`
	LowPower      *bool   `json:"low_power,omitempty"`
}

func ruleToRow(r model.Rule) ruleRow {
	var row ruleRow

	if c := r.Time; c != nil {
		tr := &timeRow{Kind: string(c.Kind), At: c.At}
		if c.Recurrence != nil {
			tr.RecurUnit = string(c.Recurrence.Unit)
			tr.RecurTimeOfDay = int(c.Recurrence.TimeOfDay)
			tr.RecurWeekday = int(c.Recurrence.Weekday)
			tr.RecurEverySec = int64(c.Recurrence.Every / time.Second)
		}
		for _, w := range c.Windows {
			tr.Windows = append(tr.Windows, windowRow{Start: int(w.Start), End: int(w.End)})
		}
		row.Time = tr
	}

	if c := r.Location; c != nil {
		row.Location = &locationRow{
			Latitude:     c.Latitude,
			Longitude:    c.Longitude,
			RadiusMeters: c.RadiusMeters,
			Transition:   string(c.Transition),
		}
	}

	if c := r.Battery; c != nil {
		br := &batteryRow{
			Comparison:    string(c.Comparison),
			Threshold:     c.Threshold,
			ThresholdHigh: c.ThresholdHigh,
			LowPower:      c.LowPower,
		}
		if c.Charging != nil {
			s := string(*c.Charging)
			br.Charging = &s
		}
		row.Battery = br
	}

	return row
}

func rowToRule(row ruleRow) model.Rule {
	var r model.Rule

	if t := row.Time; t != nil {
		c := &model.TimeCondition{Kind: model.TimeKind(t.Kind), At: t.At}
		if t.RecurUnit != "" {
			c.Recurrence = &model.Recurrence{
				Unit:      model.RecurrenceUnit(t.RecurUnit),
				TimeOfDay: model.MinuteOfDay(t.RecurTimeOfDay),
				Weekday:   time.Weekday(t.RecurWeekday),
				Every:     time.Duration(t.RecurEverySec) * time.Second,
			}
		}
		for _, w := range t.Windows {
			c.Windows = append(c.Windows, model.Window{
				Start: model.MinuteOfDay(w.Start),
				End:   model.MinuteOfDay(w.End),
			})
		}
		r.Time = c
	}

	if l := row.Location; l != nil {
		r.Location = &model.LocationCondition{
			Latitude:     l.Latitude,
			Longitude:    l.Longitude,
			RadiusMeters: l.RadiusMeters,
			Transition:   model.TransitionType(l.Transition),
		}
	}

	if b := row.Battery; b != nil {
		c := &model.BatteryCondition{
			Comparison:    model.BatteryComparison(b.Comparison),
			Threshold:     b.Threshold,
			ThresholdHigh: b.ThresholdHigh,
			LowPower:      b.LowPower,
		}
		if b.Charging != nil {
			cs := model.ChargingState(*b.Charging)
			c.Charging = &cs
		}
		r.Battery = c
	}

	return r
}
