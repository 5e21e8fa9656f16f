package homeassistant

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/geoalarm/internal/model"
)

// HA service and state constants.
const (
	domainNotify    = "notify"
	domainInputText = "input_text"
	serviceSetValue = "set_value"

	stateCharging    = "charging"
	stateFull        = "full"
	stateOn          = "on"
	stateUnknown     = "unknown"
	stateUnavailable = "unavailable"
)

// EntityState is the JSON structure returned by /api/states/<entity_id>.
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastUpdated time.Time              `json:"last_updated"`
}

// numericAttr reads a float attribute, tolerating the int and string
// renderings HA integrations produce.
func numericAttr(attrs map[string]interface{}, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// positionFromState converts a tracker entity state into a position. The
// returned error wraps [model.ErrUnavailable] when the entity carries no
// usable coordinates.
func positionFromState(st EntityState) (*model.Position, error) {
	if st.State == stateUnknown || st.State == stateUnavailable {
		return nil, fmt.Errorf("tracker %s is %s: %w", st.EntityID, st.State, model.ErrUnavailable)
	}

	lat, okLat := numericAttr(st.Attributes, "latitude")
	lon, okLon := numericAttr(st.Attributes, "longitude")
	if !okLat || !okLon {
		return nil, fmt.Errorf("tracker %s has no coordinates: %w", st.EntityID, model.ErrUnavailable)
	}

	pos := &model.Position{
		Latitude:  lat,
		Longitude: lon,
		At:        st.LastUpdated,
	}
	if acc, ok := numericAttr(st.Attributes, "gps_accuracy"); ok {
		pos.AccuracyMeters = acc
	}
	if pos.At.IsZero() {
		pos.At = time.Now()
	}
	return pos, nil
}

// batteryFromStates assembles a battery reading from the level entity plus
// the optional charging-state and low-power entities.
func batteryFromStates(level EntityState, charging, lowPower *EntityState) (*model.BatteryState, error) {
	if level.State == stateUnknown || level.State == stateUnavailable {
		return nil, fmt.Errorf("battery %s is %s: %w", level.EntityID, level.State, model.ErrUnavailable)
	}

	pct, err := strconv.ParseFloat(level.State, 64)
	if err != nil {
		return nil, fmt.Errorf("battery %s state %q is not numeric: %w", level.EntityID, level.State, model.ErrUnavailable)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	bat := &model.BatteryState{
		Level:    int(pct),
		Charging: model.Discharging,
		At:       level.LastUpdated,
	}
	if bat.At.IsZero() {
		bat.At = time.Now()
	}

	if charging != nil {
		switch strings.ToLower(charging.State) {
		case stateCharging:
			bat.Charging = model.Charging
		case stateFull:
			bat.Charging = model.Full
		}
	}
	if lowPower != nil {
		bat.LowPower = lowPower.State == stateOn
	}
	return bat, nil
}

// buildNotifyData returns the service-call payload for notify.<service>.
// Action identifiers are "<action>:<session-id>" so a tap identifies its
// session without server-side state.
func buildNotifyData(n model.Notification) map[string]interface{} {
	actions := make([]map[string]interface{}, 0, len(n.Actions))
	for _, act := range n.Actions {
		actions = append(actions, map[string]interface{}{
			"action": formatActionValue(act, n.SessionID),
			"title":  actionTitle(act),
		})
	}

	return map[string]interface{}{
		"title":   n.Title,
		"message": n.Body,
		"data": map[string]interface{}{
			"tag":     n.SessionID,
			"actions": actions,
		},
	}
}

func actionTitle(a model.Action) string {
	switch a {
	case model.ActionSnooze:
		return "Snooze"
	case model.ActionDone:
		return "Done"
	case model.ActionDismiss:
		return "Dismiss"
	default:
		return string(a)
	}
}

// formatActionValue encodes an action tap as the adapter's wire form.
func formatActionValue(a model.Action, sessionID string) string {
	return string(a) + ":" + sessionID
}

// parseActionValue decodes an action entity value written by an HA
// automation. Returns ok=false for values that are not action taps (empty
// strings, the entity's initial value, malformed input).
func parseActionValue(s string) (model.Action, string, bool) {
	action, sessionID, found := strings.Cut(s, ":")
	if !found || sessionID == "" {
		return "", "", false
	}
	switch model.Action(action) {
	case model.ActionSnooze, model.ActionDone, model.ActionDismiss:
		return model.Action(action), sessionID, true
	default:
		return "", "", false
	}
}
