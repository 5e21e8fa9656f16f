package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/njoerd114/geoalarm/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fullRuleReminder() *model.Reminder {
	charging := model.Discharging
	lowPower := true
	return &model.Reminder{
		Title:   "Leave for the gym",
		Notes:   "pack the towel",
		Enabled: true,
		Rule: model.Rule{
			Time: &model.TimeCondition{
				Kind:    model.TimeWindow,
				Windows: model.SplitWindow(17*60, 19*60),
			},
			Location: &model.LocationCondition{
				Latitude:     52.52,
				Longitude:    13.405,
				RadiusMeters: 150,
				Transition:   model.TransitionExit,
			},
			Battery: &model.BatteryCondition{
				Comparison: model.BatteryAbove,
				Threshold:  30,
				Charging:   &charging,
				LowPower:   &lowPower,
			},
		},
	}
}

func TestCreateAndGet_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rem := fullRuleReminder()
	if err := s.Create(ctx, rem); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rem.ID == "" {
		t.Fatal("ID not assigned")
	}

	got, err := s.Get(ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("reminder not found after create")
	}
	if got.Title != rem.Title || got.Notes != rem.Notes || !got.Enabled {
		t.Errorf("basic fields lost: %+v", got)
	}
	if got.LastTriggeredAt != nil {
		t.Errorf("LastTriggeredAt = %v, want nil", got.LastTriggeredAt)
	}

	tc := got.Rule.Time
	if tc == nil || tc.Kind != model.TimeWindow || len(tc.Windows) != 1 {
		t.Fatalf("time condition lost: %+v", tc)
	}
	if tc.Windows[0] != (model.Window{Start: 17 * 60, End: 19 * 60}) {
		t.Errorf("window = %+v", tc.Windows[0])
	}

	lc := got.Rule.Location
	if lc == nil || lc.Latitude != 52.52 || lc.RadiusMeters != 150 || lc.Transition != model.TransitionExit {
		t.Fatalf("location condition lost: %+v", lc)
	}

	bc := got.Rule.Battery
	if bc == nil || bc.Comparison != model.BatteryAbove || bc.Threshold != 30 {
		t.Fatalf("battery condition lost: %+v", bc)
	}
	if bc.Charging == nil || *bc.Charging != model.Discharging {
		t.Errorf("charging filter lost: %v", bc.Charging)
	}
	if bc.LowPower == nil || !*bc.LowPower {
		t.Errorf("low-power filter lost: %v", bc.LowPower)
	}
}

func TestRuleRoundTrip_InstantAndRecurrence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)
	instant := &model.Reminder{
		Title:   "Dentist",
		Enabled: true,
		Rule:    model.Rule{Time: &model.TimeCondition{Kind: model.TimeInstant, At: &at}},
	}
	weekly := &model.Reminder{
		Title:   "Water the plants",
		Enabled: true,
		Rule: model.Rule{Time: &model.TimeCondition{
			Kind: model.TimeRecurrence,
			Recurrence: &model.Recurrence{
				Unit:      model.RecurWeekly,
				TimeOfDay: 8 * 60,
				Weekday:   time.Saturday,
			},
		}},
	}
	interval := &model.Reminder{
		Title:   "Stand up",
		Enabled: true,
		Rule: model.Rule{Time: &model.TimeCondition{
			Kind:       model.TimeRecurrence,
			Recurrence: &model.Recurrence{Unit: model.RecurInterval, Every: 45 * time.Minute},
		}},
	}
	for _, rem := range []*model.Reminder{instant, weekly, interval} {
		if err := s.Create(ctx, rem); err != nil {
			t.Fatalf("create %q: %v", rem.Title, err)
		}
	}

	got, err := s.Get(ctx, instant.ID)
	if err != nil {
		t.Fatalf("get instant: %v", err)
	}
	if got.Rule.Time.At == nil || !got.Rule.Time.At.Equal(at) {
		t.Errorf("instant At = %v, want %v", got.Rule.Time.At, at)
	}

	got, err = s.Get(ctx, weekly.ID)
	if err != nil {
		t.Fatalf("get weekly: %v", err)
	}
	rec := got.Rule.Time.Recurrence
	if rec == nil || rec.Unit != model.RecurWeekly || rec.Weekday != time.Saturday || rec.TimeOfDay != 8*60 {
		t.Errorf("weekly recurrence = %+v", rec)
	}

	got, err = s.Get(ctx, interval.ID)
	if err != nil {
		t.Fatalf("get interval: %v", err)
	}
	rec = got.Rule.Time.Recurrence
	if rec == nil || rec.Every != 45*time.Minute {
		t.Errorf("interval recurrence = %+v", rec)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	rem, err := s.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rem != nil {
		t.Errorf("got %+v, want nil for missing reminder", rem)
	}
}

func TestCreate_Rejections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	noTitle := fullRuleReminder()
	noTitle.Title = ""
	if err := s.Create(ctx, noTitle); err == nil {
		t.Error("expected error for empty title")
	}

	noRule := &model.Reminder{Title: "Empty", Enabled: true}
	if err := s.Create(ctx, noRule); err == nil {
		t.Error("expected error for empty rule")
	}
}

func TestListEnabled_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	on := fullRuleReminder()
	off := fullRuleReminder()
	off.Title = "Disabled one"
	off.Enabled = false
	for _, rem := range []*model.Reminder{on, off} {
		if err := s.Create(ctx, rem); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List = %d reminders, want 2", len(all))
	}

	enabled, err := s.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != on.ID {
		t.Errorf("ListEnabled = %+v, want only the enabled reminder", enabled)
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rem := fullRuleReminder()
	if err := s.Create(ctx, rem); err != nil {
		t.Fatalf("create: %v", err)
	}

	rem.Title = "Leave for the pool"
	rem.Rule.Battery = nil
	if err := s.Update(ctx, rem); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Leave for the pool" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Rule.Battery != nil {
		t.Error("battery condition survived the update")
	}

	ghost := fullRuleReminder()
	ghost.ID = "no-such-id"
	if err := s.Update(ctx, ghost); err == nil {
		t.Error("expected error for unknown reminder")
	}
}

func TestDelete_RemovesMembershipToo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rem := fullRuleReminder()
	if err := s.Create(ctx, rem); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SaveMembership(ctx, rem.ID, true); err != nil {
		t.Fatalf("save membership: %v", err)
	}

	if err := s.Delete(ctx, rem.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.Get(ctx, rem.ID)
	if err != nil || got != nil {
		t.Errorf("Get after delete = (%+v, %v), want (nil, nil)", got, err)
	}
	members, err := s.Memberships(ctx)
	if err != nil {
		t.Fatalf("memberships: %v", err)
	}
	if _, ok := members[rem.ID]; ok {
		t.Error("membership survived reminder deletion")
	}
}

func TestSetEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rem := fullRuleReminder()
	if err := s.Create(ctx, rem); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetEnabled(ctx, rem.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := s.Get(ctx, rem.ID)
	if got.Enabled {
		t.Error("reminder still enabled")
	}

	if err := s.SetEnabled(ctx, "no-such-id", true); err == nil {
		t.Error("expected error for unknown reminder")
	}
}

func TestRecordTrigger_ResetsSnoozeCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rem := fullRuleReminder()
	if err := s.Create(ctx, rem); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.RecordSnooze(ctx, rem.ID, 3); err != nil {
		t.Fatalf("record snooze: %v", err)
	}

	at := time.Date(2026, 9, 1, 18, 15, 0, 0, time.UTC)
	if err := s.RecordTrigger(ctx, rem.ID, at); err != nil {
		t.Fatalf("record trigger: %v", err)
	}

	got, err := s.Get(ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(at) {
		t.Errorf("LastTriggeredAt = %v, want %v", got.LastTriggeredAt, at)
	}
	if got.SnoozeCount != 0 {
		t.Errorf("snooze count = %d, want reset to 0", got.SnoozeCount)
	}
}

func TestMemberships_Upsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveMembership(ctx, "rem-1", false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMembership(ctx, "rem-1", true); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SaveMembership(ctx, "rem-2", false); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := s.Memberships(ctx)
	if err != nil {
		t.Fatalf("memberships: %v", err)
	}
	if len(got) != 2 || got["rem-1"] != true || got["rem-2"] != false {
		t.Errorf("memberships = %v", got)
	}

	if err := s.DeleteMembership(ctx, "rem-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.Memberships(ctx)
	if _, ok := got["rem-1"]; ok {
		t.Error("membership survived delete")
	}
}

func TestAlarmEvents_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range []string{"triggered", "snoozed", "dismissed"} {
		err := s.AppendAlarmEvent(ctx, AlarmEvent{
			SessionID:   "sess-1",
			ReminderID:  "rem-1",
			Event:       ev,
			Reason:      "time",
			SnoozeCount: i,
			At:          base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %q: %v", ev, err)
		}
	}

	recent, err := s.RecentAlarmEvents(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d events, want 2", len(recent))
	}
	if recent[0].Event != "dismissed" || recent[1].Event != "snoozed" {
		t.Errorf("order = [%s %s], want newest first", recent[0].Event, recent[1].Event)
	}
	if !recent[0].At.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("At = %v", recent[0].At)
	}
}

func TestPendingWrites_QueuedOnFailureAndFlushed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rem := fullRuleReminder()
	if err := s.Create(ctx, rem); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A queued write replays on the next successful access.
	s.enqueue(pendingWrite{reminderID: rem.ID, count: 2})
	if n := s.PendingWrites(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if _, err := s.List(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if n := s.PendingWrites(); n != 0 {
		t.Errorf("pending after flush = %d, want 0", n)
	}
	got, _ := s.Get(ctx, rem.ID)
	if got.SnoozeCount != 2 {
		t.Errorf("snooze count = %d, want the replayed 2", got.SnoozeCount)
	}
}

func TestClosedStore_QueuesBookkeeping(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	err = s.RecordTrigger(context.Background(), "rem-1", time.Now())
	if err == nil {
		t.Fatal("expected error on closed store")
	}
	if n := s.PendingWrites(); n != 1 {
		t.Errorf("pending = %d, want the failed write queued", n)
	}
}
