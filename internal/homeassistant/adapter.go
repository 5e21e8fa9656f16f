package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	haclient "github.com/mkelcik/go-ha-client/v2"

	"github.com/njoerd114/geoalarm/internal/model"
)

// Entities names the Home Assistant entities the adapter reads.
type Entities struct {
	// Tracker is the device_tracker or person entity carrying GPS
	// attributes (latitude, longitude, gps_accuracy).
	Tracker string

	// BatteryLevel is the sensor reporting the charge percentage.
	BatteryLevel string

	// BatteryState optionally reports "charging" / "discharging" / "full".
	// When empty, readings default to discharging.
	BatteryState string

	// LowPower optionally is a binary_sensor for the OS low-power mode.
	LowPower string

	// Action optionally is an input_text entity that HA automations write
	// notification action taps into, as "<action>:<session-id>". The
	// adapter watches it and routes the taps back to the caller.
	Action string
}

// RESTClient is the subset of [haclient.Client] methods used by the adapter.
// Defining it as an interface allows mock injection in tests.
type RESTClient interface {
	Ping(ctx context.Context) error
	// GetState fetches /api/states/<entity_id>.
	GetState(ctx context.Context, entityID string) (EntityState, error)
	// CallService POSTs to /api/services/<domain>/<service>. Used for
	// notify dispatch.
	CallService(ctx context.Context, domain, service string, body io.Reader) error
}

// haClientWrapper wraps [haclient.Client] and hand-rolls the two HTTP calls
// the adapter needs beyond Ping: the states GET and a plain service POST
// without ?return_response.
type haClientWrapper struct {
	client  *haclient.Client
	baseURL string
	token   string
	hc      *http.Client
}

func (w *haClientWrapper) Ping(ctx context.Context) error {
	return w.client.Ping(ctx)
}

// GetState fetches the current state object for an entity.
func (w *haClientWrapper) GetState(ctx context.Context, entityID string) (EntityState, error) {
	endpoint := fmt.Sprintf("%s/api/states/%s",
		strings.TrimRight(w.baseURL, "/"),
		url.PathEscape(entityID),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return EntityState{}, fmt.Errorf("create state request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.hc.Do(req)
	if err != nil {
		return EntityState{}, fmt.Errorf("execute state request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return EntityState{}, fmt.Errorf("entity %s: %w", entityID, model.ErrUnavailable)
	case resp.StatusCode == http.StatusUnauthorized:
		return EntityState{}, fmt.Errorf("HA returned 401 Unauthorized — check ha_token")
	case resp.StatusCode >= 300:
		return EntityState{}, fmt.Errorf("HA returned unexpected status %d", resp.StatusCode)
	}

	var st EntityState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return EntityState{}, fmt.Errorf("decode state for %s: %w", entityID, err)
	}
	return st, nil
}

// CallService POSTs the body to /api/services/<domain>/<service> without
// appending ?return_response, so HA does not try to return data.
func (w *haClientWrapper) CallService(ctx context.Context, domain, service string, body io.Reader) error {
	endpoint := fmt.Sprintf("%s/api/services/%s/%s",
		strings.TrimRight(w.baseURL, "/"),
		url.PathEscape(domain),
		url.PathEscape(service),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute service request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest {
		var br struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&br)
		return errors.New(br.Message)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("HA returned 401 Unauthorized — check ha_token")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HA returned unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Adapter reads device sensors and delivers alarm notifications through Home
// Assistant's REST and WebSocket APIs. Create one with [NewAdapter] or
// [NewAdapterWithClient].
type Adapter struct {
	rest          RESTClient
	ws            *haclient.WSClient
	entities      Entities
	notifyService string
	logger        *slog.Logger
}

// NewAdapter creates an Adapter backed by real HA REST and WebSocket
// clients. notifyService is the HA notify service name (e.g.
// "mobile_app_phone"). The WebSocket is configured with unlimited
// auto-reconnect.
func NewAdapter(haURL, token string, entities Entities, notifyService string, logger *slog.Logger) (*Adapter, error) {
	rest, err := haclient.NewClient(haURL,
		haclient.WithToken(token),
		haclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create HA REST client: %w", err)
	}

	wrapper := &haClientWrapper{
		client:  rest,
		baseURL: haURL,
		token:   token,
		hc:      &http.Client{},
	}

	ws := rest.WS(
		haclient.WithAutoReconnect(true),
		haclient.WithMaxRetries(0), // unlimited retries
		haclient.WithOnReconnect(func() {
			logger.Info("HA WebSocket reconnected")
		}),
		haclient.WithOnReconnectError(func(err error) {
			logger.Error("HA WebSocket reconnect failed", "error", err)
		}),
	)

	return &Adapter{rest: wrapper, ws: ws, entities: entities, notifyService: notifyService, logger: logger}, nil
}

// NewAdapterWithClient creates an Adapter with a caller-supplied REST
// client. Intended for testing with a mock [RESTClient]. WebSocket features
// (SubscribeSignals) are unavailable on adapters created this way.
func NewAdapterWithClient(rest RESTClient, entities Entities, notifyService string, logger *slog.Logger) *Adapter {
	return &Adapter{rest: rest, entities: entities, notifyService: notifyService, logger: logger}
}

// Ping validates the HA connection and token with retry.
func (a *Adapter) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return a.rest.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("ping HA: %w", err)
	}
	return nil
}

// Connect establishes the WebSocket connection. Must be called before
// [Adapter.SubscribeSignals].
func (a *Adapter) Connect(ctx context.Context) error {
	if a.ws == nil {
		return fmt.Errorf("WebSocket client not configured")
	}
	return a.ws.Connect(ctx)
}

// Close shuts down the WebSocket connection gracefully.
func (a *Adapter) Close() error {
	if a.ws == nil {
		return nil
	}
	return a.ws.Close()
}

// CurrentPosition reads the tracker entity and converts its GPS attributes
// into a position. The returned error wraps [model.ErrUnavailable] when the
// entity is missing, unknown, or carries no coordinates.
func (a *Adapter) CurrentPosition(ctx context.Context) (*model.Position, error) {
	if a.entities.Tracker == "" {
		return nil, fmt.Errorf("no tracker entity configured: %w", model.ErrUnavailable)
	}

	st, err := a.getState(ctx, a.entities.Tracker)
	if err != nil {
		return nil, fmt.Errorf("get position from %s: %w", a.entities.Tracker, err)
	}
	return positionFromState(st)
}

// CurrentBattery reads the battery entities and assembles a battery state.
// The charging-state and low-power entities are optional; an unreadable
// auxiliary entity degrades the reading instead of failing it.
func (a *Adapter) CurrentBattery(ctx context.Context) (*model.BatteryState, error) {
	if a.entities.BatteryLevel == "" {
		return nil, fmt.Errorf("no battery entity configured: %w", model.ErrUnavailable)
	}

	level, err := a.getState(ctx, a.entities.BatteryLevel)
	if err != nil {
		return nil, fmt.Errorf("get battery level from %s: %w", a.entities.BatteryLevel, err)
	}

	var charging, lowPower *EntityState
	if a.entities.BatteryState != "" {
		st, err := a.getState(ctx, a.entities.BatteryState)
		if err != nil {
			a.logger.Debug("battery state entity unreadable", "entity_id", a.entities.BatteryState, "error", err)
		} else {
			charging = &st
		}
	}
	if a.entities.LowPower != "" {
		st, err := a.getState(ctx, a.entities.LowPower)
		if err != nil {
			a.logger.Debug("low power entity unreadable", "entity_id", a.entities.LowPower, "error", err)
		} else {
			lowPower = &st
		}
	}

	return batteryFromStates(level, charging, lowPower)
}

// getState is GetState with the standard retry policy.
func (a *Adapter) getState(ctx context.Context, entityID string) (EntityState, error) {
	var st EntityState
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var callErr error
		st, callErr = a.rest.GetState(ctx, entityID)
		return callErr
	})
	return st, err
}

// Present delivers an alarm notification through the configured HA notify
// service. Each action identifier embeds the session ID so taps can be
// routed back to the right session.
func (a *Adapter) Present(ctx context.Context, n model.Notification) error {
	if a.notifyService == "" {
		return fmt.Errorf("no notify service configured")
	}

	data := buildNotifyData(n)
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return a.rest.CallService(ctx, domainNotify, a.notifyService, serviceBody(data))
	})
	if err != nil {
		return fmt.Errorf("notify %q via %s: %w", n.Title, a.notifyService, err)
	}
	return nil
}

// SendAction writes an action tap into the configured action entity. A
// running daemon observes the state change and applies the action to its
// session. Used by the snooze and dismiss subcommands.
func (a *Adapter) SendAction(ctx context.Context, action model.Action, sessionID string) error {
	if a.entities.Action == "" {
		return fmt.Errorf("no action entity configured")
	}

	data := map[string]interface{}{
		"entity_id": a.entities.Action,
		"value":     formatActionValue(action, sessionID),
	}
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return a.rest.CallService(ctx, domainInputText, serviceSetValue, serviceBody(data))
	})
	if err != nil {
		return fmt.Errorf("send %s action for session %s: %w", action, sessionID, err)
	}
	return nil
}

// SubscribeSignals starts a WebSocket subscription for state_changed events
// on the sensor and action entities. Sensor changes are reported with a nil
// payload; callers refetch fresh readings when they react. Action-entity
// changes are fetched immediately and parsed into (action, session ID)
// taps. This method blocks until ctx is cancelled.
func (a *Adapter) SubscribeSignals(ctx context.Context,
	onLocation func(pos *model.Position),
	onBattery func(bat *model.BatteryState),
	onAction func(action model.Action, sessionID string),
) error {
	if a.ws == nil {
		return fmt.Errorf("WebSocket client not configured")
	}

	// Build a set for O(1) lookup.
	batterySet := make(map[string]struct{})
	for _, id := range []string{a.entities.BatteryLevel, a.entities.BatteryState, a.entities.LowPower} {
		if id != "" {
			batterySet[id] = struct{}{}
		}
	}

	sub, err := a.ws.SubscribeEvents(ctx, haclient.EventTypeStateChanged)
	if err != nil {
		return fmt.Errorf("subscribe state_changed: %w", err)
	}
	defer func() { _ = sub.Unsubscribe(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("subscription events channel closed")
			}
			data, isStateChanged, parseErr := ev.StateChanged()
			if parseErr != nil {
				a.logger.Debug("failed to parse state_changed event", "error", parseErr)
				continue
			}
			if !isStateChanged {
				continue
			}

			switch {
			case a.entities.Tracker != "" && data.EntityID == a.entities.Tracker:
				a.logger.Debug("tracker entity changed", "entity_id", data.EntityID)
				onLocation(nil)
			case hasEntity(batterySet, data.EntityID):
				a.logger.Debug("battery entity changed", "entity_id", data.EntityID)
				onBattery(nil)
			case a.entities.Action != "" && data.EntityID == a.entities.Action:
				a.dispatchAction(ctx, onAction)
			}
		case subErr, ok := <-sub.Errors():
			if !ok {
				return fmt.Errorf("subscription errors channel closed")
			}
			a.logger.Error("subscription error", "error", subErr)
			// Auto-reconnect restores the subscription; just log.
		}
	}
}

// dispatchAction fetches the action entity's current value and routes the
// tap it encodes.
func (a *Adapter) dispatchAction(ctx context.Context, onAction func(action model.Action, sessionID string)) {
	st, err := a.rest.GetState(ctx, a.entities.Action)
	if err != nil {
		a.logger.Error("reading action entity", "entity_id", a.entities.Action, "error", err)
		return
	}
	action, sessionID, ok := parseActionValue(st.State)
	if !ok {
		a.logger.Debug("ignoring action entity value", "value", st.State)
		return
	}
	a.logger.Info("notification action received", "action", action, "session_id", sessionID)
	onAction(action, sessionID)
}

func hasEntity(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}

// serviceBody marshals data to a JSON [io.Reader] for service calls.
func serviceBody(data map[string]interface{}) io.Reader {
	b, _ := json.Marshal(data) //nolint:errcheck // map[string]interface{} always marshals
	return bytes.NewReader(b)
}
