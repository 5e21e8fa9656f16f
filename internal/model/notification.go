package model

import "errors"

// ErrUnavailable is returned by sensor sources when a reading cannot be
// obtained at all (entity missing, permission withheld). The engine treats
// the affected condition kinds as never-satisfied, never as fatal.
var ErrUnavailable = errors.New("sensor source unavailable")

// Action is a button offered on an alarm notification.
type Action string

const (
	// ActionSnooze defers the alarm by the configured snooze interval.
	ActionSnooze Action = "snooze"
	// ActionDone dismisses the alarm and marks the reminder handled.
	ActionDone Action = "done"
	// ActionDismiss dismisses the alarm.
	ActionDismiss Action = "dismiss"
)

// Notification is one user-visible alarm presentation.
type Notification struct {
	ReminderID string
	SessionID  string
	Title      string
	Body       string
	Actions    []Action
}
