package engine_test

import (
	"context"
	"testing"

	"inflow/internal/engine"
	"inflow/internal/store"
)

// ─────────────────────────────────────────────────────────────
// Deduplicator unit tests
// Uses the in-memory store as the persistence collaborator.
// ─────────────────────────────────────────────────────────────

func TestIdentifierFor_FirstPresentWins(t *testing.T) {
	d := engine.NewDeduplicator(store.NewMemory(), nil)

	rec := engine.NormalizedRecord{"email": "a@b.co", "name": "Alice"}
	id := d.IdentifierFor(rec)
	if id == nil || id.Field != "email" {
		t.Fatalf("identifier = %+v, want email (higher priority than name)", id)
	}

	rec = engine.NormalizedRecord{"id": int64(7), "email": "a@b.co"}
	id = d.IdentifierFor(rec)
	if id == nil || id.Field != "id" {
		t.Fatalf("identifier = %+v, want id", id)
	}

	// Nil and empty identity values are skipped.
	rec = engine.NormalizedRecord{"id": nil, "email": "", "name": "Bob"}
	id = d.IdentifierFor(rec)
	if id == nil || id.Field != "name" {
		t.Fatalf("identifier = %+v, want name", id)
	}

	if d.IdentifierFor(engine.NormalizedRecord{"other": 1}) != nil {
		t.Fatal("record without identity fields must have nil identifier")
	}
}

func TestFilter_InBatchDuplicates(t *testing.T) {
	ctx := context.Background()
	d := engine.NewDeduplicator(store.NewMemory(), nil)

	batch := []engine.NormalizedRecord{
		{"id": int64(1), "v": "first"},
		{"id": int64(1), "v": "second"}, // same identifier, later in batch
		{"id": int64(2), "v": "other"},
	}
	out, dups, err := d.Filter(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if dups != 1 {
		t.Errorf("duplicates = %d, want 1", dups)
	}
	// First occurrence wins.
	if out[0].Class != engine.ClassNew || out[1].Class != engine.ClassDuplicate || out[2].Class != engine.ClassNew {
		t.Errorf("classes = %v %v %v, want new/duplicate/new", out[0].Class, out[1].Class, out[2].Class)
	}
}

func TestFilter_AgainstStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := engine.Identifier{Field: "name", Value: "Alice"}
	mem.UpsertRecords(ctx, []engine.PersistRecord{
		{Identifier: &id, Record: engine.NormalizedRecord{"name": "Alice", "price": int64(100)}},
	})

	d := engine.NewDeduplicator(mem, nil)
	batch := []engine.NormalizedRecord{
		{"name": "Alice", "price": int64(100)}, // identical → exact duplicate
		{"name": "Bob", "price": int64(50)},    // unseen → new
	}
	out, dups, err := d.Filter(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if dups != 1 || out[0].Class != engine.ClassDuplicate {
		t.Errorf("stored twin not recognized as duplicate: dups=%d class=%v", dups, out[0].Class)
	}
	if out[1].Class != engine.ClassNew {
		t.Errorf("unseen record class = %v, want new", out[1].Class)
	}
}

func TestFilter_ChangedRecordIsUpdateNotDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := engine.Identifier{Field: "name", Value: "Alice"}
	existing := engine.NormalizedRecord{"name": "Alice", "price": int64(100)}
	mem.UpsertRecords(ctx, []engine.PersistRecord{{Identifier: &id, Record: existing}})

	d := engine.NewDeduplicator(mem, nil)
	out, dups, err := d.Filter(ctx, []engine.NormalizedRecord{
		{"name": "Alice", "price": int64(120)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if dups != 0 {
		t.Errorf("duplicates = %d, want 0 — changed records are kept", dups)
	}
	if out[0].Class != engine.ClassUpdate {
		t.Fatalf("class = %v, want update", out[0].Class)
	}
	if out[0].Existing == nil || out[0].Existing["price"] != int64(100) {
		t.Errorf("update not paired with stored record: %v", out[0].Existing)
	}
}

func TestFilter_NumericEqualityAcrossWidths(t *testing.T) {
	// An int64 written earlier may come back as float64 from a real
	// store; dedupe must still treat equal numbers as equal.
	ctx := context.Background()
	mem := store.NewMemory()
	id := engine.Identifier{Field: "id", Value: int64(1)}
	mem.UpsertRecords(ctx, []engine.PersistRecord{
		{Identifier: &id, Record: engine.NormalizedRecord{"id": int64(1), "price": float64(55)}},
	})

	d := engine.NewDeduplicator(mem, nil)
	_, dups, err := d.Filter(ctx, []engine.NormalizedRecord{
		{"id": int64(1), "price": int64(55)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if dups != 1 {
		t.Errorf("duplicates = %d, want 1 (55 == 55.0)", dups)
	}
}

func TestFilter_NoIdentifierAlwaysNew(t *testing.T) {
	ctx := context.Background()
	d := engine.NewDeduplicator(store.NewMemory(), nil)
	out, dups, err := d.Filter(ctx, []engine.NormalizedRecord{
		{"x": 1}, {"x": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if dups != 0 || out[0].Class != engine.ClassNew || out[1].Class != engine.ClassNew {
		t.Error("records without identity fields must always classify as new")
	}
}
