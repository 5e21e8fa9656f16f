// Package alarm owns the lifecycle of active alarm sessions: triggered,
// snoozed (with countdown), dismissed.
//
// The state machine holds only in-memory session state scoped to the process
// lifetime. Durable reminder bookkeeping (last trigger time, snooze count) is
// mirrored to a [Recorder] on every transition except wake. Lifecycle changes
// are also published on a typed event channel so the coordinator has a single
// place to dispatch notifications and archival from.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/geoalarm/internal/model"
)

// State is an alarm session's lifecycle state.
type State string

const (
	// StateTriggered means the alarm is being presented to the user.
	StateTriggered State = "triggered"
	// StateSnoozed means the alarm is deferred until SnoozeUntil.
	StateSnoozed State = "snoozed"
	// StateDismissed is terminal; the session leaves the active set.
	StateDismissed State = "dismissed"
)

// Sentinel errors for invalid lifecycle operations.
var (
	// ErrAlreadyActive means the reminder already has a live session.
	// Expected during normal operation; the coordinator swallows it.
	ErrAlreadyActive = errors.New("alarm session already active for reminder")

	// ErrInvalidTransition means the requested transition is not legal from
	// the session's current state, or the session is unknown.
	ErrInvalidTransition = errors.New("invalid alarm state transition")
)

// Session is a snapshot of one alarm session. Values returned by the machine
// are copies; mutating them has no effect on the machine.
type Session struct {
	// ID is the machine-assigned session identifier.
	ID string

	// ReminderID is the reminder this session belongs to. At most one
	// session per reminder is active at a time.
	ReminderID string

	// Reason records which condition kind fired the alarm.
	Reason model.TriggerReason

	State State

	// SnoozeCount is the number of snoozes within this session.
	SnoozeCount int

	// SnoozeUntil is when a snoozed session is due to re-present. Nil unless
	// State is StateSnoozed.
	SnoozeUntil *time.Time

	TriggeredAt time.Time
}

// EventType labels a session lifecycle event.
type EventType string

const (
	// EventTriggered is published when a new session is created.
	EventTriggered EventType = "triggered"
	// EventSnoozed is published when a session is snoozed.
	EventSnoozed EventType = "snoozed"
	// EventWoken is published when a snoozed session re-presents.
	EventWoken EventType = "woken"
	// EventDismissed is published when a session ends.
	EventDismissed EventType = "dismissed"
)

// Event is a typed lifecycle notification carrying the session snapshot
// after the transition.
type Event struct {
	Type    EventType
	Session Session
	At      time.Time
}

// Recorder mirrors session transitions to the reminder's durable fields.
// Implemented by the store.
type Recorder interface {
	// RecordTrigger sets the reminder's last-triggered timestamp and resets
	// its snooze count.
	RecordTrigger(ctx context.Context, reminderID string, at time.Time) error

	// RecordSnooze updates the reminder's persisted snooze count.
	RecordSnooze(ctx context.Context, reminderID string, count int) error
}

// session is the machine's internal mutable record.
type session struct {
	Session
	wakeTimer *time.Timer
}

// Machine is the alarm state machine. All methods are safe for concurrent
// use; a single mutex gives the active-session map the required
// single-writer discipline, since triggers arrive from the evaluation pass
// while snoozes and dismissals arrive out-of-band from user actions.
type Machine struct {
	recorder Recorder
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	byID     map[string]*session // session ID → session
	active   map[string]string   // reminder ID → active session ID
	events   chan Event
	dropped  int
}

// NewMachine creates a Machine mirroring transitions to recorder.
func NewMachine(recorder Recorder, logger *slog.Logger) *Machine {
	return &Machine{
		recorder: recorder,
		log:      logger,
		now:      time.Now,
		byID:     make(map[string]*session),
		active:   make(map[string]string),
		events:   make(chan Event, 64),
	}
}

// Events returns the lifecycle event channel. The channel is never closed;
// events are dropped (and counted) if no consumer keeps up.
func (m *Machine) Events() <-chan Event {
	return m.events
}

// Trigger creates a new session for the reminder in StateTriggered.
// Returns ErrAlreadyActive if a session for this reminder is already live —
// the primary duplicate-suppression mechanism for repeated satisfied passes.
//
// The recorder write happens after the in-memory session is installed: a
// storage hiccup must never cost the user the alarm itself.
func (m *Machine) Trigger(ctx context.Context, reminderID string, reason model.TriggerReason) (Session, error) {
	m.mu.Lock()
	if _, live := m.active[reminderID]; live {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("reminder %s: %w", reminderID, ErrAlreadyActive)
	}

	now := m.now()
	s := &session{Session: Session{
		ID:          uuid.NewString(),
		ReminderID:  reminderID,
		Reason:      reason,
		State:       StateTriggered,
		TriggeredAt: now,
	}}
	m.byID[s.ID] = s
	m.active[reminderID] = s.ID
	snap := s.Session
	m.mu.Unlock()

	m.publish(Event{Type: EventTriggered, Session: snap, At: now})

	if err := m.recorder.RecordTrigger(ctx, reminderID, now); err != nil {
		m.log.Error("recording trigger failed, session proceeds", "reminder_id", reminderID, "error", err)
	}
	return snap, nil
}

// Snooze defers the session by the given number of minutes and increments
// its snooze count. Valid from StateTriggered or StateSnoozed; anything else
// (including an unknown session ID) returns ErrInvalidTransition.
func (m *Machine) Snooze(ctx context.Context, sessionID string, minutes int) (Session, error) {
	if minutes <= 0 {
		return Session{}, fmt.Errorf("snooze minutes must be positive, got %d", minutes)
	}

	m.mu.Lock()
	s, ok := m.byID[sessionID]
	if !ok || s.State == StateDismissed {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("snooze session %s: %w", sessionID, ErrInvalidTransition)
	}

	now := m.now()
	until := now.Add(time.Duration(minutes) * time.Minute)
	s.State = StateSnoozed
	s.SnoozeCount++
	s.SnoozeUntil = &until

	// Replace any previous wake timer with one for the new deadline.
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
	}
	id := s.ID
	s.wakeTimer = time.AfterFunc(time.Until(until), func() {
		if _, err := m.Wake(id); err != nil {
			m.log.Debug("wake timer fired for finished session", "session_id", id)
		}
	})
	snap := s.Session
	m.mu.Unlock()

	m.publish(Event{Type: EventSnoozed, Session: snap, At: now})

	if err := m.recorder.RecordSnooze(ctx, snap.ReminderID, snap.SnoozeCount); err != nil {
		m.log.Error("recording snooze failed", "reminder_id", snap.ReminderID, "error", err)
	}
	return snap, nil
}

// Wake re-presents a snoozed session, moving it back to StateTriggered.
// A session already in StateTriggered is a no-op. Wake is not mirrored to
// the recorder — the reminder's durable fields do not change.
func (m *Machine) Wake(sessionID string) (Session, error) {
	m.mu.Lock()
	s, ok := m.byID[sessionID]
	if !ok || s.State == StateDismissed {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("wake session %s: %w", sessionID, ErrInvalidTransition)
	}
	if s.State == StateTriggered {
		snap := s.Session
		m.mu.Unlock()
		return snap, nil
	}

	now := m.now()
	s.State = StateTriggered
	s.SnoozeUntil = nil
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
		s.wakeTimer = nil
	}
	snap := s.Session
	m.mu.Unlock()

	m.publish(Event{Type: EventWoken, Session: snap, At: now})
	return snap, nil
}

// Dismiss ends the session and removes it from the active set, cancelling
// any pending wake timer. Dismissing an already-dismissed or unknown session
// is a no-op, not an error: user actions from a notification can race with
// their own duplicates.
func (m *Machine) Dismiss(sessionID string) {
	m.mu.Lock()
	s, ok := m.byID[sessionID]
	if !ok || s.State == StateDismissed {
		m.mu.Unlock()
		return
	}

	now := m.now()
	s.State = StateDismissed
	s.SnoozeUntil = nil
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
		s.wakeTimer = nil
	}
	delete(m.active, s.ReminderID)
	delete(m.byID, s.ID)
	snap := s.Session
	m.mu.Unlock()

	m.publish(Event{Type: EventDismissed, Session: snap, At: now})
}

// DismissForReminder dismisses the reminder's active session, if any.
// Used when a reminder is disabled or deleted while alarming.
func (m *Machine) DismissForReminder(reminderID string) {
	m.mu.Lock()
	id, ok := m.active[reminderID]
	m.mu.Unlock()
	if ok {
		m.Dismiss(id)
	}
}

// Active returns the live session for a reminder, if any.
func (m *Machine) Active(reminderID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[reminderID]
	if !ok {
		return Session{}, false
	}
	return m.byID[id].Session, true
}

// Get returns the session with the given ID, if it is still live.
func (m *Machine) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.Session, true
}

// Sessions returns a snapshot of all live sessions.
func (m *Machine) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s.Session)
	}
	return out
}

// DueSnoozed returns sessions whose snooze deadline has passed. The periodic
// tick calls this as a catch-all in case a wake timer was lost to a process
// restart.
func (m *Machine) DueSnoozed(now time.Time) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Session
	for _, s := range m.byID {
		if s.State == StateSnoozed && s.SnoozeUntil != nil && !now.Before(*s.SnoozeUntil) {
			due = append(due, s.Session)
		}
	}
	return due
}

// Stop cancels all pending wake timers. Live sessions are left in place;
// they are process-scoped and die with it anyway.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.wakeTimer != nil {
			s.wakeTimer.Stop()
			s.wakeTimer = nil
		}
	}
}

// publish emits an event without ever blocking a transition. Drops are
// counted and logged; lifecycle correctness never depends on delivery.
func (m *Machine) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		m.log.Warn("alarm event dropped, consumer not keeping up", "type", ev.Type, "dropped_total", n)
	}
}
