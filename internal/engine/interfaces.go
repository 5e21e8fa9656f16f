// Package engine implements the scheduler coordinator: the one component
// that receives asynchronous wake-up signals (periodic tick, location
// update, battery update, user action), coalesces them into single
// evaluation passes, and drives the geofence tracker, condition evaluator,
// and alarm state machine.
//
// The package contains two main responsibilities:
//
//   - [Coordinator.Run] drives the polling loop plus the optional pushed
//     sensor subscription, with a re-entrancy guard that merges signals
//     arriving mid-pass instead of running passes concurrently.
//   - session lifecycle events from the alarm state machine are fanned out
//     to the notification sink, the event archive, and the optional
//     publisher in one place.
package engine

import (
	"context"

	"github.com/njoerd114/geoalarm/internal/alarm"
	"github.com/njoerd114/geoalarm/internal/model"
	"github.com/njoerd114/geoalarm/internal/store"
)

// PositionSource provides the device's current position. Returns an error
// wrapping [model.ErrUnavailable] when no position can be obtained at all.
// Implemented by [homeassistant.Adapter].
type PositionSource interface {
	CurrentPosition(ctx context.Context) (*model.Position, error)
}

// BatterySource provides the device's current battery state.
// Implemented by [homeassistant.Adapter].
type BatterySource interface {
	CurrentBattery(ctx context.Context) (*model.BatteryState, error)
}

// ReminderStore is the persistence surface the coordinator consumes.
// Implemented by [store.Store].
type ReminderStore interface {
	ListEnabled(ctx context.Context) ([]*model.Reminder, error)
	Get(ctx context.Context, id string) (*model.Reminder, error)

	Memberships(ctx context.Context) (map[string]bool, error)
	SaveMembership(ctx context.Context, reminderID string, inside bool) error
	DeleteMembership(ctx context.Context, reminderID string) error

	AppendAlarmEvent(ctx context.Context, ev store.AlarmEvent) error
}

// NotificationSink delivers alarm notifications to the user. The engine's
// only output channel. Implemented by [homeassistant.Adapter].
type NotificationSink interface {
	Present(ctx context.Context, n model.Notification) error
}

// EventPublisher mirrors session lifecycle events to an external bus.
// Optional; implemented by [mqtt.Publisher].
type EventPublisher interface {
	Publish(ev alarm.Event) error
}

// SensorConnector supplies the push side of the signal sources: a long-lived
// subscription reporting location changes, battery changes, and notification
// action taps. Implemented by [homeassistant.Adapter].
type SensorConnector interface {
	Connect(ctx context.Context) error
	Close() error

	// SubscribeSignals blocks until ctx is cancelled, invoking the callbacks
	// as events arrive. Pushed samples may be nil, in which case the
	// coordinator fetches fresh values lazily during the pass. onAction
	// receives the tapped action and the session ID embedded in the
	// notification.
	SubscribeSignals(ctx context.Context,
		onLocation func(pos *model.Position),
		onBattery func(bat *model.BatteryState),
		onAction func(action model.Action, sessionID string),
	) error
}
