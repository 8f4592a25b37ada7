package engine_test

import (
	"context"
	"testing"
	"time"

	"inflow/internal/engine"
	"inflow/internal/store"
)

// ─────────────────────────────────────────────────────────────
// SchemaVersionStore unit tests
// ─────────────────────────────────────────────────────────────

func schemaOf(fields ...engine.SchemaField) *engine.Schema {
	return &engine.Schema{Fields: fields}
}

func TestReconcile_MonotonicVersioning(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svs := engine.NewSchemaVersionStore(mem)

	s1 := schemaOf(engine.SchemaField{Name: "a", Type: engine.TypeInteger})
	s2 := schemaOf(engine.SchemaField{Name: "a", Type: engine.TypeString})
	s3 := schemaOf(
		engine.SchemaField{Name: "a", Type: engine.TypeInteger},
		engine.SchemaField{Name: "b", Type: engine.TypeDate},
	)

	for i, s := range []*engine.Schema{s1, s2, s3} {
		v, err := svs.Reconcile(ctx, s, 10)
		if err != nil {
			t.Fatal(err)
		}
		if v.Version != i+1 {
			t.Errorf("schema %d got version %d, want %d", i, v.Version, i+1)
		}
	}

	// Re-submitting an earlier structure reuses its version.
	v, err := svs.Reconcile(ctx, s2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 2 {
		t.Errorf("resubmitted schema got version %d, want 2", v.Version)
	}
	all, _ := mem.FindSchemaVersions(ctx)
	if len(all) != 3 {
		t.Errorf("store has %d versions, want 3 — reuse must not mint", len(all))
	}
}

func TestReconcile_ReuseUpdatesStats(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svs := engine.NewSchemaVersionStore(mem)
	s := schemaOf(engine.SchemaField{Name: "a", Type: engine.TypeInteger})

	if _, err := svs.Reconcile(ctx, s, 10); err != nil {
		t.Fatal(err)
	}
	v, err := svs.Reconcile(ctx, s, 7)
	if err != nil {
		t.Fatal(err)
	}
	if v.Stats.TotalRecords != 17 {
		t.Errorf("total_records = %d, want 17", v.Stats.TotalRecords)
	}
	if v.Stats.TotalFields != 1 {
		t.Errorf("total_fields = %d, want 1", v.Stats.TotalFields)
	}
}

func TestReconcile_FieldOrderIrrelevant(t *testing.T) {
	ctx := context.Background()
	svs := engine.NewSchemaVersionStore(store.NewMemory())

	a := schemaOf(
		engine.SchemaField{Name: "x", Type: engine.TypeInteger},
		engine.SchemaField{Name: "y", Type: engine.TypeString},
	)
	b := schemaOf(
		engine.SchemaField{Name: "y", Type: engine.TypeString},
		engine.SchemaField{Name: "x", Type: engine.TypeInteger},
	)

	v1, err := svs.Reconcile(ctx, a, 1)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := svs.Reconcile(ctx, b, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v1.Version != v2.Version {
		t.Errorf("field order changed the version: %d vs %d", v1.Version, v2.Version)
	}
}

// racingStore simulates losing the allocation race: the first insert
// fails with ErrVersionConflict after a competitor claims the number.
type racingStore struct {
	*store.Memory
	raced bool
}

func (r *racingStore) InsertSchemaVersion(ctx context.Context, v *engine.SchemaVersion) error {
	if !r.raced {
		r.raced = true
		// Competitor wins the same version number with a different schema.
		winner := &engine.SchemaVersion{
			Version:     v.Version,
			Fingerprint: "competitor",
			Schema: engine.Schema{Fields: []engine.SchemaField{
				{Name: "other", Type: engine.TypeString},
			}},
			CreatedAt: time.Now(),
			LastUsed:  time.Now(),
		}
		if err := r.Memory.InsertSchemaVersion(ctx, winner); err != nil {
			return err
		}
		return engine.ErrVersionConflict
	}
	return r.Memory.InsertSchemaVersion(ctx, v)
}

func TestReconcile_RetriesAfterLostRace(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{Memory: store.NewMemory()}
	svs := engine.NewSchemaVersionStore(rs)

	s := schemaOf(engine.SchemaField{Name: "a", Type: engine.TypeInteger})
	v, err := svs.Reconcile(ctx, s, 1)
	if err != nil {
		t.Fatalf("lost race must retry, not fail: %v", err)
	}
	// The competitor took version 1, so we end up with version 2.
	if v.Version != 2 {
		t.Errorf("version = %d, want 2 after losing the race for 1", v.Version)
	}
	all, _ := rs.FindSchemaVersions(ctx)
	if len(all) != 2 {
		t.Errorf("store has %d versions, want 2", len(all))
	}
}
