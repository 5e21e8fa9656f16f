// Package geofence converts raw position samples into edge-triggered
// enter/exit events per monitored region.
//
// The tracker holds one "currently inside" flag per region and emits a
// [model.Transition] only when a sample flips that flag. Steady state —
// however many samples confirm it — produces nothing, so a reminder sitting
// inside its region does not re-fire on every poll.
package geofence

import (
	"math"
	"sync"

	"github.com/njoerd114/geoalarm/internal/model"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// Region is a circular geofence derived from a reminder's location condition.
type Region struct {
	// ID keys the membership flag; regions are keyed by reminder ID.
	ID string

	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// RegionFor builds the region for a reminder's location condition.
func RegionFor(reminderID string, c *model.LocationCondition) Region {
	return Region{
		ID:           reminderID,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		RadiusMeters: c.RadiusMeters,
	}
}

// Tracker maintains per-region membership flags. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	inside map[string]bool // region ID → currently inside
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{inside: make(map[string]bool)}
}

// Observe feeds one position sample for a region and returns the transition
// it caused, or nil when membership is unchanged. The first observation for a
// region seeds the flag without emitting — a device already inside every
// region at startup must not fire a volley of enter events.
func (t *Tracker) Observe(region Region, pos model.Position) *model.Transition {
	dist := Distance(pos.Latitude, pos.Longitude, region.Latitude, region.Longitude)
	nowInside := dist <= region.RadiusMeters

	t.mu.Lock()
	defer t.mu.Unlock()

	wasInside, known := t.inside[region.ID]
	t.inside[region.ID] = nowInside

	if !known || wasInside == nowInside {
		return nil
	}

	kind := model.Exited
	if nowInside {
		kind = model.Entered
	}
	return &model.Transition{
		RegionID:       region.ID,
		Kind:           kind,
		DistanceMeters: dist,
		At:             pos.At,
	}
}

// Seed installs a known membership flag without emitting a transition.
// Used at startup to restore persisted membership so a restart does not
// replay an enter for a region the device never left.
func (t *Tracker) Seed(regionID string, inside bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inside[regionID] = inside
}

// Forget drops the membership flag for a region. Called when the owning
// reminder is deleted or disabled.
func (t *Tracker) Forget(regionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inside, regionID)
}

// Membership returns the current flag and whether the region has been
// observed at all.
func (t *Tracker) Membership(regionID string) (inside, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inside, known = t.inside[regionID]
	return inside, known
}

// Memberships returns a copy of all known flags, for persistence.
func (t *Tracker) Memberships() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.inside))
	for id, in := range t.inside {
		out[id] = in
	}
	return out
}

// Distance returns the great-circle distance in meters between two
// coordinates using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
