package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/geoalarm/internal/alarm"
	"github.com/njoerd114/geoalarm/internal/geofence"
	"github.com/njoerd114/geoalarm/internal/model"
	"github.com/njoerd114/geoalarm/internal/rule"
	"github.com/njoerd114/geoalarm/internal/store"
)

const (
	otelScope        = "geoalarm/engine"
	spanPass         = "engine.pass"
	metricPasses     = "geoalarm.engine.passes"
	metricCoalesced  = "geoalarm.engine.signals.coalesced"
	metricTriggers   = "geoalarm.engine.alarms.triggered"
	metricSnoozes    = "geoalarm.engine.alarms.snoozed"
	metricDismissals = "geoalarm.engine.alarms.dismissed"
	metricErrors     = "geoalarm.engine.errors"
)

// Signal identifies one wake-up reason. Multiple signals arriving while a
// pass is in flight are merged into a single follow-up pass.
type Signal string

const (
	// SignalTick is the periodic catch-all wake-up.
	SignalTick Signal = "tick"
	// SignalLocation is a pushed location change.
	SignalLocation Signal = "location"
	// SignalBattery is a pushed battery change.
	SignalBattery Signal = "battery"
	// SignalManual is an explicit user-requested evaluation.
	SignalManual Signal = "manual"
)

// Stats counts the outcomes of a single evaluation pass.
type Stats struct {
	Evaluated   int
	Transitions int
	Triggered   int
	Suppressed  int // satisfied verdicts swallowed by an active session
	Errors      int
}

// Options tunes coordinator behaviour. Zero values get defaults.
type Options struct {
	// PollInterval is the periodic tick spacing. The host platform's
	// observed minimum is ~15s; the coordinator never assumes ticks arrive
	// faster, it only treats them as a catch-all.
	PollInterval time.Duration

	// SnapshotTimeout bounds how long one pass waits for a sensor read
	// before proceeding with the last-known value.
	SnapshotTimeout time.Duration

	// SnoozeMinutes is the deferral applied when the user taps Snooze on a
	// notification.
	SnoozeMinutes int

	// Connector, when set, supplies pushed location/battery/action signals.
	// Without it the coordinator runs polling-only.
	Connector SensorConnector

	// Publisher, when set, mirrors session lifecycle events to an external
	// bus.
	Publisher EventPublisher
}

const (
	defaultPollInterval    = 60 * time.Second
	defaultSnapshotTimeout = 5 * time.Second
	defaultSnoozeMinutes   = 9
)

// Coordinator coalesces asynchronous wake-up signals into duplicate-free
// evaluation passes. Create one with [New] and start it with
// [Coordinator.Run], or drive single passes with [Coordinator.EvaluateNow].
type Coordinator struct {
	store     ReminderStore
	positions PositionSource
	battery   BatterySource
	notify    NotificationSink
	alarms    *alarm.Machine
	tracker   *geofence.Tracker
	conn      SensorConnector
	publisher EventPublisher
	log       *slog.Logger

	pollInterval    time.Duration
	snapshotTimeout time.Duration
	snoozeMinutes   int

	now func() time.Time

	// Re-entrancy guard state: pending is the coalesced signal set, running
	// is true while a pass loop owns it. Passes are never concurrent.
	mu      sync.Mutex
	pending map[Signal]struct{}
	running bool

	lastPos *model.Position
	lastBat *model.BatteryState

	// Permission problems are surfaced once, then demoted to debug noise.
	warnedPos bool
	warnedBat bool

	restoreOnce sync.Once
	restoreErr  error

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntPasses     metric.Int64Counter
	cntCoalesced  metric.Int64Counter
	cntTriggers   metric.Int64Counter
	cntSnoozes    metric.Int64Counter
	cntDismissals metric.Int64Counter
	cntErrors     metric.Int64Counter
}

// New creates a Coordinator wired to the given collaborators.
func New(st ReminderStore, positions PositionSource, battery BatterySource, notify NotificationSink,
	alarms *alarm.Machine, tracker *geofence.Tracker, opts Options, logger *slog.Logger) *Coordinator {

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = defaultSnapshotTimeout
	}
	if opts.SnoozeMinutes <= 0 {
		opts.SnoozeMinutes = defaultSnoozeMinutes
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Coordinator{
		store:     st,
		positions: positions,
		battery:   battery,
		notify:    notify,
		alarms:    alarms,
		tracker:   tracker,
		conn:      opts.Connector,
		publisher: opts.Publisher,
		log:       logger,

		pollInterval:    opts.PollInterval,
		snapshotTimeout: opts.SnapshotTimeout,
		snoozeMinutes:   opts.SnoozeMinutes,

		now:     time.Now,
		pending: make(map[Signal]struct{}),

		tracer:        tracer,
		cntPasses:     mustCounter(metricPasses, "Number of evaluation passes run"),
		cntCoalesced:  mustCounter(metricCoalesced, "Number of signals merged into an in-flight pass"),
		cntTriggers:   mustCounter(metricTriggers, "Number of alarm sessions triggered"),
		cntSnoozes:    mustCounter(metricSnoozes, "Number of alarm snoozes"),
		cntDismissals: mustCounter(metricDismissals, "Number of alarm dismissals"),
		cntErrors:     mustCounter(metricErrors, "Number of per-reminder errors during passes"),
	}
}

// --- Signals ----------------------------------------------------------------

// Tick handles a periodic wake-up from the background runtime.
func (c *Coordinator) Tick(ctx context.Context) {
	c.onSignal(ctx, SignalTick)
}

// LocationSignal handles a pushed location change. pos, when non-nil, is the
// fresh sample carried by the signal and becomes the last-known position.
func (c *Coordinator) LocationSignal(ctx context.Context, pos *model.Position) {
	if pos != nil {
		c.mu.Lock()
		c.lastPos = pos
		c.mu.Unlock()
	}
	c.onSignal(ctx, SignalLocation)
}

// BatterySignal handles a pushed battery change.
func (c *Coordinator) BatterySignal(ctx context.Context, bat *model.BatteryState) {
	if bat != nil {
		c.mu.Lock()
		c.lastBat = bat
		c.mu.Unlock()
	}
	c.onSignal(ctx, SignalBattery)
}

// EvaluateNow forces one evaluation pass. Used for manual refresh.
func (c *Coordinator) EvaluateNow(ctx context.Context) error {
	if err := c.ensureRestored(ctx); err != nil {
		return err
	}
	c.onSignal(ctx, SignalManual)
	return nil
}

// onSignal records the signal and runs passes until the pending set is
// empty. If a pass loop is already running the signal is merged into its
// next iteration instead of starting a concurrent pass — this guard is what
// makes "two signals, one merged pass" hold.
func (c *Coordinator) onSignal(ctx context.Context, sig Signal) {
	if err := c.ensureRestored(ctx); err != nil {
		c.log.Error("signal dropped, restore failed", "signal", sig, "error", err)
		return
	}

	c.mu.Lock()
	c.pending[sig] = struct{}{}
	if c.running {
		c.mu.Unlock()
		c.cntCoalesced.Add(ctx, 1)
		c.log.Debug("signal coalesced into in-flight pass", "signal", sig)
		return
	}
	c.running = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		sigs := make([]Signal, 0, len(c.pending))
		for s := range c.pending {
			sigs = append(sigs, s)
		}
		c.pending = make(map[Signal]struct{})
		c.mu.Unlock()

		c.pass(ctx, sigs)
		c.drainEvents(ctx)
	}
}

// --- Evaluation pass --------------------------------------------------------

// pass runs one evaluation over all enabled reminders.
func (c *Coordinator) pass(ctx context.Context, sigs []Signal) {
	ctx, span := c.tracer.Start(ctx, spanPass)
	defer span.End()
	c.cntPasses.Add(ctx, 1)

	now := c.now()
	var stats Stats

	rems, err := c.store.ListEnabled(ctx)
	if err != nil {
		c.log.Error("listing enabled reminders", "error", err)
		span.RecordError(err)
		c.cntErrors.Add(ctx, 1)
		return
	}

	// Retire before waking due sessions, so a reminder disabled while its
	// alarm was snoozed is torn down instead of re-presented.
	c.retireDropped(ctx, rems)

	// The tick doubles as the snooze-deadline catch-all: wake timers do not
	// survive a process restart, the pass does.
	for _, s := range c.alarms.DueSnoozed(now) {
		if _, err := c.alarms.Wake(s.ID); err != nil {
			c.log.Debug("waking due session", "session_id", s.ID, "error", err)
		}
	}

	snap := c.acquireSnapshot(ctx, now, rems)

	for _, rem := range rems {
		stats.Evaluated++

		var tr *model.Transition
		if rem.Rule.Location != nil && snap.Position != nil {
			tr = c.observeRegion(ctx, rem, *snap.Position)
			if tr != nil {
				stats.Transitions++
			}
		}

		verdict := rule.Evaluate(rem, snap, tr)
		if !verdict.Satisfied {
			continue
		}

		if _, err := c.alarms.Trigger(ctx, rem.ID, verdict.Reason); err != nil {
			if errors.Is(err, alarm.ErrAlreadyActive) {
				// Expected: a reminder already alarming is never re-triggered.
				stats.Suppressed++
				c.log.Debug("trigger suppressed, session active", "reminder_id", rem.ID)
				continue
			}
			stats.Errors++
			c.log.Error("triggering alarm", "reminder_id", rem.ID, "error", err)
			continue
		}
		stats.Triggered++
		c.log.Info("alarm triggered", "reminder_id", rem.ID, "title", rem.Title, "reason", verdict.Reason)
	}

	if stats.Triggered > 0 {
		c.cntTriggers.Add(ctx, int64(stats.Triggered))
	}
	if stats.Errors > 0 {
		c.cntErrors.Add(ctx, int64(stats.Errors))
	}
	span.SetAttributes(
		attribute.Int("pass.evaluated", stats.Evaluated),
		attribute.Int("pass.transitions", stats.Transitions),
		attribute.Int("pass.triggered", stats.Triggered),
		attribute.Int("pass.suppressed", stats.Suppressed),
		attribute.Int("pass.errors", stats.Errors),
	)

	c.log.Debug("pass complete",
		"signals", sigs,
		"evaluated", stats.Evaluated,
		"transitions", stats.Transitions,
		"triggered", stats.Triggered,
		"suppressed", stats.Suppressed,
		"errors", stats.Errors,
	)
}

// retireDropped tears down engine state for reminders that left the enabled
// set since the last pass: their live alarm session is dismissed (cancelling
// any pending wake timer) and their geofence membership is dropped from the
// tracker and the store.
func (c *Coordinator) retireDropped(ctx context.Context, rems []*model.Reminder) {
	enabled := make(map[string]bool, len(rems))
	for _, rem := range rems {
		enabled[rem.ID] = true
	}

	for _, s := range c.alarms.Sessions() {
		if enabled[s.ReminderID] {
			continue
		}
		c.log.Info("reminder no longer enabled, dismissing its session",
			"reminder_id", s.ReminderID, "session_id", s.ID)
		c.alarms.DismissForReminder(s.ReminderID)
	}

	for id := range c.tracker.Memberships() {
		if enabled[id] {
			continue
		}
		c.tracker.Forget(id)
		if err := c.store.DeleteMembership(ctx, id); err != nil {
			c.log.Error("deleting membership for retired reminder", "reminder_id", id, "error", err)
		}
	}
}

// observeRegion feeds the snapshot position to the tracker for the
// reminder's region and persists the resulting membership flag.
func (c *Coordinator) observeRegion(ctx context.Context, rem *model.Reminder, pos model.Position) *model.Transition {
	_, known := c.tracker.Membership(rem.ID)
	tr := c.tracker.Observe(geofence.RegionFor(rem.ID, rem.Rule.Location), pos)

	if tr != nil || !known {
		inside, _ := c.tracker.Membership(rem.ID)
		if err := c.store.SaveMembership(ctx, rem.ID, inside); err != nil {
			c.log.Error("persisting geofence membership", "reminder_id", rem.ID, "error", err)
		}
	}
	return tr
}

// acquireSnapshot assembles the pass's immutable sensor snapshot, fetching
// only what the enabled reminders actually need and falling back to
// last-known values when a read times out.
func (c *Coordinator) acquireSnapshot(ctx context.Context, now time.Time, rems []*model.Reminder) model.SensorSnapshot {
	var needPos, needBat bool
	for _, rem := range rems {
		needPos = needPos || rem.Rule.Location != nil
		needBat = needBat || rem.Rule.Battery != nil
	}

	snap := model.SensorSnapshot{Now: now}
	if needPos {
		snap.Position = c.acquirePosition(ctx, now)
	}
	if needBat {
		snap.Battery = c.acquireBattery(ctx, now)
	}
	return snap
}

func (c *Coordinator) acquirePosition(ctx context.Context, now time.Time) *model.Position {
	c.mu.Lock()
	last := c.lastPos
	c.mu.Unlock()

	// A sample pushed within one poll interval is fresh enough to reuse.
	if last != nil && now.Sub(last.At) <= c.pollInterval {
		return last
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.snapshotTimeout)
	defer cancel()

	pos, err := c.positions.CurrentPosition(fetchCtx)
	switch {
	case err == nil:
		c.mu.Lock()
		c.lastPos = pos
		c.warnedPos = false
		c.mu.Unlock()
		return pos
	case errors.Is(err, model.ErrUnavailable):
		c.warnOnce(&c.warnedPos, "position source unavailable, location conditions inert", err)
		return last
	default:
		// Stale snapshot: proceed with the last-known value.
		c.log.Debug("position read failed, using last-known", "error", err)
		return last
	}
}

func (c *Coordinator) acquireBattery(ctx context.Context, now time.Time) *model.BatteryState {
	c.mu.Lock()
	last := c.lastBat
	c.mu.Unlock()

	if last != nil && now.Sub(last.At) <= c.pollInterval {
		return last
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.snapshotTimeout)
	defer cancel()

	bat, err := c.battery.CurrentBattery(fetchCtx)
	switch {
	case err == nil:
		c.mu.Lock()
		c.lastBat = bat
		c.warnedBat = false
		c.mu.Unlock()
		return bat
	case errors.Is(err, model.ErrUnavailable):
		c.warnOnce(&c.warnedBat, "battery source unavailable, battery conditions inert", err)
		return last
	default:
		c.log.Debug("battery read failed, using last-known", "error", err)
		return last
	}
}

// warnOnce logs the first occurrence at warn level, later ones at debug.
func (c *Coordinator) warnOnce(flag *bool, msg string, err error) {
	c.mu.Lock()
	first := !*flag
	*flag = true
	c.mu.Unlock()

	if first {
		c.log.Warn(msg, "error", err)
	} else {
		c.log.Debug(msg, "error", err)
	}
}

// --- Startup recovery -------------------------------------------------------

// ensureRestored runs startup recovery exactly once before any signal is
// processed: geofence regions for enabled location reminders are
// re-registered and persisted memberships reloaded, so geofence reminders
// keep working across process restarts.
func (c *Coordinator) ensureRestored(ctx context.Context) error {
	c.restoreOnce.Do(func() {
		c.restoreErr = c.restore(ctx)
	})
	return c.restoreErr
}

func (c *Coordinator) restore(ctx context.Context) error {
	rems, err := c.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing reminders for restore: %w", err)
	}
	persisted, err := c.store.Memberships(ctx)
	if err != nil {
		return fmt.Errorf("loading geofence memberships: %w", err)
	}

	regions := 0
	live := make(map[string]bool, len(rems))
	for _, rem := range rems {
		if rem.Rule.Location == nil {
			continue
		}
		regions++
		live[rem.ID] = true
		if inside, ok := persisted[rem.ID]; ok {
			c.tracker.Seed(rem.ID, inside)
		}
	}

	// Memberships for deleted or disabled reminders are stale; drop them.
	for id := range persisted {
		if live[id] {
			continue
		}
		if err := c.store.DeleteMembership(ctx, id); err != nil {
			c.log.Error("pruning stale membership", "reminder_id", id, "error", err)
		}
	}

	c.log.Info("geofence regions re-registered", "regions", regions, "restored_memberships", len(persisted))
	return nil
}

// --- Run loop ---------------------------------------------------------------

// Run performs startup recovery, starts the event consumer and optional
// sensor subscription, and drives the periodic tick. It blocks until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.ensureRestored(ctx); err != nil {
		return err
	}
	defer c.alarms.Stop()

	go c.consumeEvents(ctx)

	if c.conn != nil {
		if err := c.conn.Connect(ctx); err != nil {
			c.log.Error("sensor subscription connect failed, falling back to polling-only", "error", err)
		} else {
			defer func() { _ = c.conn.Close() }()
			go func() {
				err := c.conn.SubscribeSignals(ctx,
					func(pos *model.Position) { c.LocationSignal(ctx, pos) },
					func(bat *model.BatteryState) { c.BatterySignal(ctx, bat) },
					func(a model.Action, sessionID string) { c.HandleAction(ctx, a, sessionID) },
				)
				if err != nil && ctx.Err() == nil {
					c.log.Error("sensor subscription ended unexpectedly", "error", err)
				}
			}()
		}
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Immediate first pass.
	c.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// --- Exposed alarm surface --------------------------------------------------

// TriggerReminder fires a reminder directly, bypassing its rule.
func (c *Coordinator) TriggerReminder(ctx context.Context, reminderID string) (alarm.Session, error) {
	rem, err := c.store.Get(ctx, reminderID)
	if err != nil {
		return alarm.Session{}, fmt.Errorf("loading reminder %s: %w", reminderID, err)
	}
	if rem == nil {
		return alarm.Session{}, fmt.Errorf("reminder %s not found", reminderID)
	}
	if live, ok := c.alarms.Active(reminderID); ok {
		return live, fmt.Errorf("reminder %s is already alarming (session %s): %w",
			reminderID, live.ID, alarm.ErrAlreadyActive)
	}
	s, err := c.alarms.Trigger(ctx, reminderID, model.ReasonManual)
	if err != nil {
		return alarm.Session{}, err
	}
	c.drainEvents(ctx)
	return s, nil
}

// SnoozeAlarm defers an active session by the given minutes.
func (c *Coordinator) SnoozeAlarm(ctx context.Context, sessionID string, minutes int) (alarm.Session, error) {
	if minutes <= 0 {
		minutes = c.snoozeMinutes
	}
	s, err := c.alarms.Snooze(ctx, sessionID, minutes)
	if err != nil {
		return alarm.Session{}, err
	}
	c.cntSnoozes.Add(ctx, 1)
	c.drainEvents(ctx)
	return s, nil
}

// DismissAlarm ends an active session. Idempotent.
func (c *Coordinator) DismissAlarm(ctx context.Context, sessionID string) {
	c.alarms.Dismiss(sessionID)
	c.cntDismissals.Add(ctx, 1)
	c.drainEvents(ctx)
}

// HandleAction dispatches a notification action tap to the session it names.
func (c *Coordinator) HandleAction(ctx context.Context, a model.Action, sessionID string) {
	switch a {
	case model.ActionSnooze:
		if _, err := c.SnoozeAlarm(ctx, sessionID, 0); err != nil {
			c.log.Error("snoozing from notification action", "session_id", sessionID, "error", err)
		}
	case model.ActionDone, model.ActionDismiss:
		c.DismissAlarm(ctx, sessionID)
	default:
		c.log.Debug("ignoring unknown notification action", "action", a, "session_id", sessionID)
	}
}

// --- Session event fan-out --------------------------------------------------

// consumeEvents delivers lifecycle events produced outside passes, most
// importantly wake-timer re-presentations.
func (c *Coordinator) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.alarms.Events():
			c.handleEvent(ctx, ev)
		}
	}
}

// drainEvents handles all events already queued, without blocking. Called
// after passes and direct alarm operations so single-pass invocations (e.g.
// eval-once) deliver their notifications before returning.
func (c *Coordinator) drainEvents(ctx context.Context) {
	for {
		select {
		case ev := <-c.alarms.Events():
			c.handleEvent(ctx, ev)
		default:
			return
		}
	}
}

// handleEvent fans one session event out to the notification sink, the
// archive, and the optional publisher. Each destination fails independently.
func (c *Coordinator) handleEvent(ctx context.Context, ev alarm.Event) {
	switch ev.Type {
	case alarm.EventTriggered, alarm.EventWoken:
		c.present(ctx, ev.Session)
	}

	if err := c.store.AppendAlarmEvent(ctx, store.AlarmEvent{
		SessionID:   ev.Session.ID,
		ReminderID:  ev.Session.ReminderID,
		Event:       string(ev.Type),
		Reason:      string(ev.Session.Reason),
		SnoozeCount: ev.Session.SnoozeCount,
		At:          ev.At,
	}); err != nil {
		c.log.Error("archiving alarm event", "session_id", ev.Session.ID, "error", err)
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ev); err != nil {
			c.log.Error("publishing alarm event", "session_id", ev.Session.ID, "error", err)
		}
	}
}

// present delivers the alarm notification for a triggered or woken session.
func (c *Coordinator) present(ctx context.Context, s alarm.Session) {
	rem, err := c.store.Get(ctx, s.ReminderID)
	if err != nil || rem == nil {
		c.log.Error("loading reminder for notification", "reminder_id", s.ReminderID, "error", err)
		return
	}
	// A wake timer can fire between the reminder being disabled and the pass
	// that retires its session. Tear down instead of re-notifying.
	if !rem.Enabled {
		c.log.Info("suppressing notification for disabled reminder", "reminder_id", rem.ID, "session_id", s.ID)
		c.alarms.DismissForReminder(rem.ID)
		return
	}

	n := model.Notification{
		ReminderID: rem.ID,
		SessionID:  s.ID,
		Title:      rem.Title,
		Body:       rem.Notes,
		Actions:    []model.Action{model.ActionSnooze, model.ActionDone, model.ActionDismiss},
	}
	if err := c.notify.Present(ctx, n); err != nil {
		c.log.Error("presenting notification", "reminder_id", rem.ID, "error", err)
	}
}
