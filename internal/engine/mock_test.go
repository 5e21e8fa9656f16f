package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/njoerd114/geoalarm/internal/alarm"
	"github.com/njoerd114/geoalarm/internal/model"
	"github.com/njoerd114/geoalarm/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore implements ReminderStore and alarm.Recorder, mirroring trigger
// bookkeeping onto the in-memory reminders the way the real store does.
type mockStore struct {
	mu        sync.Mutex
	reminders []*model.Reminder

	memberships map[string]bool
	savedMember []string // reminder IDs passed to SaveMembership, in order
	deleted     []string

	appended []store.AlarmEvent

	listErr   error
	getErr    error
	listCalls int
	listHook  func() // called outside the mutex on every ListEnabled
}

func newMockStore(rems ...*model.Reminder) *mockStore {
	return &mockStore{reminders: rems, memberships: make(map[string]bool)}
}

func (m *mockStore) ListEnabled(ctx context.Context) ([]*model.Reminder, error) {
	m.mu.Lock()
	m.listCalls++
	hook := m.listHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.Reminder
	for _, r := range m.reminders {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func (m *mockStore) setListHook(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHook = hook
}

func (m *mockStore) Get(ctx context.Context, id string) (*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, r := range m.reminders {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockStore) Memberships(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.memberships))
	for k, v := range m.memberships {
		out[k] = v
	}
	return out, nil
}

func (m *mockStore) SaveMembership(ctx context.Context, reminderID string, inside bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[reminderID] = inside
	m.savedMember = append(m.savedMember, reminderID)
	return nil
}

func (m *mockStore) DeleteMembership(ctx context.Context, reminderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.memberships, reminderID)
	m.deleted = append(m.deleted, reminderID)
	return nil
}

func (m *mockStore) AppendAlarmEvent(ctx context.Context, ev store.AlarmEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, ev)
	return nil
}

func (m *mockStore) RecordTrigger(ctx context.Context, reminderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		if r.ID == reminderID {
			t := at
			r.LastTriggeredAt = &t
			r.SnoozeCount = 0
		}
	}
	return nil
}

func (m *mockStore) RecordSnooze(ctx context.Context, reminderID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		if r.ID == reminderID {
			r.SnoozeCount = count
		}
	}
	return nil
}

func (m *mockStore) events() []store.AlarmEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AlarmEvent(nil), m.appended...)
}

// mockPositions implements PositionSource.
type mockPositions struct {
	mu    sync.Mutex
	pos   *model.Position
	err   error
	calls int
}

func (m *mockPositions) CurrentPosition(ctx context.Context) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.pos, nil
}

func (m *mockPositions) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockBattery implements BatterySource.
type mockBattery struct {
	mu    sync.Mutex
	bat   *model.BatteryState
	err   error
	calls int
}

func (m *mockBattery) CurrentBattery(ctx context.Context) (*model.BatteryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.bat, nil
}

func (m *mockBattery) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockNotify implements NotificationSink.
type mockNotify struct {
	mu        sync.Mutex
	presented []model.Notification
	err       error
}

func (m *mockNotify) Present(ctx context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.presented = append(m.presented, n)
	return nil
}

func (m *mockNotify) notifications() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Notification(nil), m.presented...)
}

// mockPublisher implements EventPublisher.
type mockPublisher struct {
	mu     sync.Mutex
	events []alarm.Event
}

func (m *mockPublisher) Publish(ev alarm.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) published() []alarm.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]alarm.Event(nil), m.events...)
}

// mockConnector implements SensorConnector, pushing one location sample and
// then blocking until the context ends.
type mockConnector struct {
	pushPos *model.Position

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (m *mockConnector) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *mockConnector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConnector) SubscribeSignals(ctx context.Context,
	onLocation func(pos *model.Position),
	onBattery func(bat *model.BatteryState),
	onAction func(action model.Action, sessionID string),
) error {
	if m.pushPos != nil {
		onLocation(m.pushPos)
	}
	<-ctx.Done()
	return ctx.Err()
}
