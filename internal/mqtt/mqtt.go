// Package mqtt publishes alarm lifecycle events to an MQTT broker, with an
// abstraction for testing. Publishing is optional; the daemon runs without a
// broker when none is configured.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/njoerd114/geoalarm/internal/alarm"
)

// Topic is the MQTT topic for alarm lifecycle events.
const Topic = "geoalarm/events"

// Publisher publishes alarm events to MQTT.
type Publisher interface {
	// Publish sends an alarm event to the broker. Returns error if
	// publishing fails (should not crash the process).
	Publish(event alarm.Event) error

	// Close disconnects from the broker.
	Close() error
}

// Payload is the MQTT message payload structure.
type Payload struct {
	Alarm AlarmPayload `json:"alarm"`
}

// AlarmPayload contains the alarm event details.
type AlarmPayload struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	SessionID   string `json:"session_id"`
	ReminderID  string `json:"reminder_id"`
	Reason      string `json:"reason"`
	SnoozeCount int    `json:"snooze_count,omitempty"`
	SnoozeUntil string `json:"snooze_until,omitempty"`
}

// FormatPayload creates the JSON payload for an alarm event.
func FormatPayload(event alarm.Event) ([]byte, error) {
	payload := Payload{
		Alarm: AlarmPayload{
			Timestamp:   event.At.UTC().Format(time.RFC3339),
			Event:       string(event.Type),
			SessionID:   event.Session.ID,
			ReminderID:  event.Session.ReminderID,
			Reason:      string(event.Session.Reason),
			SnoozeCount: event.Session.SnoozeCount,
		},
	}
	if event.Session.SnoozeUntil != nil {
		payload.Alarm.SnoozeUntil = event.Session.SnoozeUntil.UTC().Format(time.RFC3339)
	}
	return json.Marshal(payload)
}
