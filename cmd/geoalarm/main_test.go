package main

import (
	"flag"
	"testing"
	"time"

	"github.com/njoerd114/geoalarm/internal/model"
)

func TestParseMinute(t *testing.T) {
	tests := []struct {
		in      string
		want    model.MinuteOfDay
		wantErr bool
	}{
		{"08:30", 510, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noonish", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMinute(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMinute(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseMinute(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseWeekly(t *testing.T) {
	day, m, err := parseWeekly("mon 08:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day != time.Monday || m != 510 {
		t.Errorf("parseWeekly = (%s, %d), want (Monday, 510)", day, m)
	}

	// Full names are matched on their first three letters.
	day, _, err = parseWeekly("Saturday 10:00")
	if err != nil || day != time.Saturday {
		t.Errorf("parseWeekly(Saturday) = (%s, %v)", day, err)
	}

	if _, _, err := parseWeekly("mon"); err == nil {
		t.Error("expected error for missing time")
	}
	if _, _, err := parseWeekly("someday 08:30"); err == nil {
		t.Error("expected error for unknown weekday")
	}
}

func TestParseWindow(t *testing.T) {
	start, end, err := parseWindow("09:00-17:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 540 || end != 1050 {
		t.Errorf("parseWindow = (%d, %d), want (540, 1050)", start, end)
	}

	if _, _, err := parseWindow("09:00"); err == nil {
		t.Error("expected error for missing separator")
	}
	if _, _, err := parseWindow("09:00-25:00"); err == nil {
		t.Error("expected error for bad end time")
	}
}

func TestParseBattery(t *testing.T) {
	cond, err := parseBattery("below:20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Comparison != model.BatteryBelow || cond.Threshold != 20 {
		t.Errorf("parseBattery(below:20) = %+v", cond)
	}

	cond, err = parseBattery("between:20:50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Comparison != model.BatteryBetween || cond.Threshold != 20 || cond.ThresholdHigh != 50 {
		t.Errorf("parseBattery(between:20:50) = %+v", cond)
	}

	for _, bad := range []string{"", "under:20", "below:lots", "between:20", "between:a:b"} {
		if _, err := parseBattery(bad); err == nil {
			t.Errorf("parseBattery(%q) succeeded, want error", bad)
		}
	}
}

// addFlagSet mirrors the add command's flag definitions so buildRule sees
// the same Visit state as the real parse.
func addFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.Float64("lat", 0, "")
	fs.Float64("lon", 0, "")
	return fs
}

func TestBuildRule_TimeFlagsMutuallyExclusive(t *testing.T) {
	fs := addFlagSet()
	_, err := buildRule(fs, "2026-09-01T08:00:00Z", "08:00", "", 0, "", 0, 0, 100, "enter", "", "")
	if err == nil {
		t.Error("expected error for --at combined with --daily")
	}
}

func TestBuildRule_Instant(t *testing.T) {
	fs := addFlagSet()
	rule, err := buildRule(fs, "2026-09-01T08:00:00+02:00", "", "", 0, "", 0, 0, 100, "enter", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Time == nil || rule.Time.Kind != model.TimeInstant || rule.Time.At == nil {
		t.Fatalf("rule = %+v", rule)
	}
	if rule.Location != nil {
		t.Error("location condition appeared without --lat/--lon")
	}
}

func TestBuildRule_LocationOptInViaVisit(t *testing.T) {
	fs := addFlagSet()
	if err := fs.Parse([]string{"-lat", "0", "-lon", "6.0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	// An explicit zero latitude still counts as set.
	rule, err := buildRule(fs, "", "", "", 0, "", 0, 6.0, 200, "both", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Location == nil {
		t.Fatal("location condition missing despite explicit flags")
	}
	if rule.Location.Latitude != 0 || rule.Location.Longitude != 6.0 || rule.Location.RadiusMeters != 200 {
		t.Errorf("location = %+v", rule.Location)
	}
	if rule.Location.Transition != model.TransitionBoth {
		t.Errorf("transition = %q", rule.Location.Transition)
	}
}

func TestBuildRule_ChargingRequiresBattery(t *testing.T) {
	fs := addFlagSet()
	if _, err := buildRule(fs, "", "", "", 0, "", 0, 0, 100, "enter", "", "charging"); err == nil {
		t.Error("expected error for --charging without --battery")
	}

	rule, err := buildRule(fs, "", "", "", 0, "", 0, 0, 100, "enter", "below:30", "discharging")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.Battery == nil || rule.Battery.Charging == nil || *rule.Battery.Charging != model.Discharging {
		t.Errorf("battery = %+v", rule.Battery)
	}

	if _, err := buildRule(fs, "", "", "", 0, "", 0, 0, 100, "enter", "below:30", "plugged"); err == nil {
		t.Error("expected error for unknown charging state")
	}
}

func TestDescribeRule(t *testing.T) {
	charging := model.Charging
	rule := model.Rule{
		Time: &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurDaily, TimeOfDay: 480},
		},
		Location: &model.LocationCondition{
			Latitude: 52.52, Longitude: 13.405, RadiusMeters: 150, Transition: model.TransitionExit,
		},
		Battery: &model.BatteryCondition{Comparison: model.BatteryBelow, Threshold: 20, Charging: &charging},
	}

	got := describeRule(rule)
	want := "daily 08:00 + exit 150m @ 52.5200,13.4050 + battery below 20%"
	if got != want {
		t.Errorf("describeRule = %q, want %q", got, want)
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
