package engine

import (
	"context"
	"fmt"
)

// ── Deduplicator ───────────────────────────────────────────
// Classifies every incoming record as new, exact duplicate, or an
// update to an already-stored entity. Identity is the first field from
// the priority list present (and non-empty) on the record — documented
// first-present-wins, so records sharing some but not all identity
// fields match on the highest-priority one they both carry.

// RecordClass is the outcome of deduplication for one record.
type RecordClass int

const (
	ClassNew       RecordClass = iota // no matching record anywhere
	ClassDuplicate                    // identifier seen before, values unchanged
	ClassUpdate                       // identifier stored before, values differ
)

// Deduplicated is one record annotated with its classification. For
// ClassUpdate, Existing carries the stored record it matched.
type Deduplicated struct {
	Record     NormalizedRecord
	Identifier *Identifier
	Class      RecordClass
	Existing   NormalizedRecord
}

// Deduplicator filters batches against in-batch and stored records.
// The seen set is carried across calls, so later chunks of the same
// upload reconcile against earlier chunks, not just prior uploads.
type Deduplicator struct {
	store    Persistence
	priority []string
	seen     map[string]struct{}
}

// NewDeduplicator creates a Deduplicator with the given identity-field
// priority list.
func NewDeduplicator(store Persistence, priority []string) *Deduplicator {
	if len(priority) == 0 {
		priority = DefaultIdentifierPriority
	}
	return &Deduplicator{
		store:    store,
		priority: priority,
		seen:     make(map[string]struct{}),
	}
}

// IdentifierFor resolves a record's identity, or nil when none of the
// identity fields is present with a usable value.
func (d *Deduplicator) IdentifierFor(rec NormalizedRecord) *Identifier {
	for _, field := range d.priority {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return &Identifier{Field: field, Value: v}
	}
	return nil
}

// Filter classifies every record in the batch. The returned slice
// preserves batch order and contains every input record; duplicates is
// the count of records classified ClassDuplicate. Batch order decides
// in-batch ties: the first occurrence wins.
func (d *Deduplicator) Filter(ctx context.Context, batch []NormalizedRecord) ([]Deduplicated, int, error) {
	out := make([]Deduplicated, 0, len(batch))
	duplicates := 0

	for _, rec := range batch {
		id := d.IdentifierFor(rec)
		if id == nil {
			// No identity: always treated as new.
			out = append(out, Deduplicated{Record: rec, Class: ClassNew})
			continue
		}

		key := id.Key()
		if _, ok := d.seen[key]; ok {
			duplicates++
			out = append(out, Deduplicated{Record: rec, Identifier: id, Class: ClassDuplicate})
			continue
		}
		d.seen[key] = struct{}{}

		existing, err := d.store.FindByIdentifier(ctx, *id)
		if err != nil {
			return nil, 0, fmt.Errorf("lookup %s: %w", key, err)
		}
		if existing == nil {
			out = append(out, Deduplicated{Record: rec, Identifier: id, Class: ClassNew})
			continue
		}
		if recordUnchanged(existing, rec) {
			duplicates++
			out = append(out, Deduplicated{Record: rec, Identifier: id, Class: ClassDuplicate, Existing: existing})
			continue
		}
		out = append(out, Deduplicated{Record: rec, Identifier: id, Class: ClassUpdate, Existing: existing})
	}

	return out, duplicates, nil
}

// recordUnchanged reports whether every field carried by the incoming
// record has an identical value on the stored one. System fields are
// excluded from the comparison.
func recordUnchanged(existing, incoming NormalizedRecord) bool {
	for name, v := range incoming {
		if name == LoadedAtField {
			continue
		}
		old, ok := existing[name]
		if !ok || !valuesEqual(old, v) {
			return false
		}
	}
	return true
}

// valuesEqual compares two normalized values: numerically when both
// sides are numeric (an int64 55 equals a float64 55 decoded from the
// store), textually otherwise.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

// toFloat widens any numeric value to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
