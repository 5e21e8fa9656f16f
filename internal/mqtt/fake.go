package mqtt

import (
	"sync"

	"github.com/njoerd114/geoalarm/internal/alarm"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all alarm events that were published.
	Events []alarm.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the alarm event.
func (f *FakePublisher) Publish(event alarm.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	f.Events = append(f.Events, event)

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Published returns a copy of the recorded events.
func (f *FakePublisher) Published() []alarm.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alarm.Event, len(f.Events))
	copy(out, f.Events)
	return out
}
