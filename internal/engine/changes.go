package engine

import "time"

// ── ChangeTracker ──────────────────────────────────────────
// Computes per-field deltas on the monitored field set between the
// stored record and an incoming update of the same entity.

// ChangeTracker detects value changes on a fixed set of monitored
// fields. Fields outside the set are still written to storage but
// never produce events.
type ChangeTracker struct {
	monitored []string
}

// NewChangeTracker creates a tracker for the given monitored fields.
func NewChangeTracker(monitored []string) *ChangeTracker {
	if len(monitored) == 0 {
		monitored = DefaultMonitoredFields
	}
	return &ChangeTracker{monitored: monitored}
}

// Detect emits one ChangeEvent per monitored field present on both
// records whose values differ. A field present on only one side is
// schema evolution, not a change — no event.
func (t *ChangeTracker) Detect(id Identifier, existing, incoming NormalizedRecord, now time.Time) []ChangeEvent {
	var events []ChangeEvent
	for _, field := range t.monitored {
		oldV, hasOld := existing[field]
		newV, hasNew := incoming[field]
		if !hasOld || !hasNew {
			continue
		}
		if valuesEqual(oldV, newV) {
			continue
		}
		events = append(events, ChangeEvent{
			Identifier: id,
			Field:      field,
			OldValue:   oldV,
			NewValue:   newV,
			ChangeType: "update",
			Timestamp:  now,
		})
	}
	return events
}
