// Package reminders imports Apple Reminders through the go-eventkit library.
// Reminders with a due date become one-shot alarms at that instant; the
// import is idempotent, so re-running it skips anything already present.
//
// The importer accepts context.Context on every method for API consistency
// even though the underlying cgo calls are non-cancellable (sub-200ms
// latency).
package reminders

import (
	"context"
	"fmt"
	"log/slog"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"

	"github.com/njoerd114/geoalarm/internal/model"
)

// EventKitClient is the subset of [ekreminders.Client] methods used by the
// importer. Defining it as an interface allows mock injection in tests.
type EventKitClient interface {
	Reminders(opts ...ekreminders.ListOption) ([]ekreminders.Reminder, error)
}

// ReminderStore is the persistence surface the importer writes to.
type ReminderStore interface {
	List(ctx context.Context) ([]*model.Reminder, error)
	Create(ctx context.Context, rem *model.Reminder) error
}

// Stats summarises one import run.
type Stats struct {
	// Fetched counts reminders read from Apple Reminders.
	Fetched int
	// Imported counts reminders written to the store.
	Imported int
	// Skipped counts reminders passed over (completed, no due date, or
	// already imported).
	Skipped int
}

// Importer pulls Apple Reminders into the local reminder store. Create one
// with [NewImporter] or [NewImporterWithClient].
type Importer struct {
	client EventKitClient
	store  ReminderStore
	log    *slog.Logger
}

// NewImporter creates an Importer backed by a real EventKit client.
// This triggers the macOS TCC permissions prompt on first use.
func NewImporter(store ReminderStore, logger *slog.Logger) (*Importer, error) {
	c, err := ekreminders.New()
	if err != nil {
		return nil, fmt.Errorf("initialising reminders client: %w", err)
	}
	return &Importer{client: c, store: store, log: logger}, nil
}

// NewImporterWithClient creates an Importer with a caller-supplied client.
// Intended for testing with a mock [EventKitClient].
func NewImporterWithClient(client EventKitClient, store ReminderStore, logger *slog.Logger) *Importer {
	return &Importer{client: client, store: store, log: logger}
}

// Import fetches all reminders from the given list names and creates a
// one-shot alarm for every incomplete reminder with a due date that is not
// already in the store. Identity for the skip check is (title, due instant).
// Per-reminder failures are logged and counted; the first one is returned
// after the run completes.
func (im *Importer) Import(ctx context.Context, listNames []string) (Stats, error) {
	var stats Stats

	existing, err := im.store.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing existing reminders: %w", err)
	}
	seen := make(map[importKey]struct{}, len(existing))
	for _, rem := range existing {
		if k, ok := keyFor(rem); ok {
			seen[k] = struct{}{}
		}
	}

	var firstErr error
	for _, name := range listNames {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("import reminders: %w", err)
		}
		im.log.Debug("fetching reminders", "list", name)

		rems, err := im.client.Reminders(ekreminders.WithList(name))
		if err != nil {
			return stats, fmt.Errorf("fetching reminders for list %q: %w", name, err)
		}
		stats.Fetched += len(rems)

		for i := range rems {
			rem, ok := reminderToModel(&rems[i])
			if !ok {
				stats.Skipped++
				continue
			}
			k, _ := keyFor(rem)
			if _, dup := seen[k]; dup {
				stats.Skipped++
				continue
			}

			if err := im.store.Create(ctx, rem); err != nil {
				im.log.Error("importing reminder", "title", rem.Title, "list", name, "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("importing reminder %q: %w", rem.Title, err)
				}
				continue
			}
			seen[k] = struct{}{}
			stats.Imported++
			im.log.Info("imported reminder", "title", rem.Title, "due", rem.Rule.Time.At)
		}
	}

	return stats, firstErr
}
