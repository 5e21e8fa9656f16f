package reminders

import (
	"time"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"

	"github.com/njoerd114/geoalarm/internal/model"
)

// importKey identifies an imported reminder for the idempotency check.
type importKey struct {
	title string
	at    int64 // due instant, unix seconds
}

// keyFor returns the import identity of a reminder, or ok=false when the
// reminder is not a one-shot time alarm and can never collide with an
// import.
func keyFor(rem *model.Reminder) (importKey, bool) {
	tc := rem.Rule.Time
	if tc == nil || tc.Kind != model.TimeInstant || tc.At == nil {
		return importKey{}, false
	}
	return importKey{title: rem.Title, at: tc.At.Unix()}, true
}

// reminderToModel converts an EventKit reminder into a one-shot alarm at its
// due instant. Returns ok=false for reminders that cannot become alarms:
// completed ones, and ones without a due date.
func reminderToModel(r *ekreminders.Reminder) (*model.Reminder, bool) {
	if r.Completed || r.DueDate == nil {
		return nil, false
	}

	at := (*r.DueDate).Truncate(time.Second)
	return &model.Reminder{
		Title:   r.Title,
		Notes:   r.Notes,
		Enabled: true,
		Rule: model.Rule{
			Time: &model.TimeCondition{
				Kind: model.TimeInstant,
				At:   &at,
			},
		},
	}, true
}
