package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ── SchemaVersionStore ─────────────────────────────────────
// Reconciles an inferred schema against the stored version history:
// reuse the matching version if one exists, otherwise mint the next
// number. Allocation is made safe against concurrent batches by the
// store's unique indexes on version and fingerprint — losing the race
// surfaces as ErrVersionConflict and we simply re-fetch and retry.

// maxAllocRetries bounds the insert-and-retry loop. Each lost race
// means another writer made progress, so a handful is plenty.
const maxAllocRetries = 5

// SchemaVersionStore compares inferred schemas against persisted
// versions and allocates new version numbers.
type SchemaVersionStore struct {
	store Persistence
}

// NewSchemaVersionStore creates a version store over the persistence
// collaborator.
func NewSchemaVersionStore(store Persistence) *SchemaVersionStore {
	return &SchemaVersionStore{store: store}
}

// Reconcile returns the schema version for the candidate schema. On a
// structural match with a stored version, that version is reused and
// its usage stats grow by batchRecords. Otherwise a new version with
// number max+1 (1 for an empty store) is persisted and returned.
func (s *SchemaVersionStore) Reconcile(ctx context.Context, schema *Schema, batchRecords int) (*SchemaVersion, error) {
	fp := schema.Fingerprint()

	for attempt := 0; attempt < maxAllocRetries; attempt++ {
		versions, err := s.store.FindSchemaVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch schema versions: %w", err)
		}

		maxVersion := 0
		for i := range versions {
			v := &versions[i]
			if v.Fingerprint == "" {
				// Stored before fingerprints existed; derive it.
				v.Fingerprint = v.Schema.Fingerprint()
			}
			if v.Fingerprint == fp {
				now := time.Now().UTC()
				if err := s.store.TouchSchemaVersion(ctx, v.Version, now, batchRecords); err != nil {
					return nil, fmt.Errorf("touch schema version %d: %w", v.Version, err)
				}
				v.LastUsed = now
				v.Stats.TotalRecords += batchRecords
				log.Printf("loader: reusing schema version %d", v.Version)
				return v, nil
			}
			if v.Version > maxVersion {
				maxVersion = v.Version
			}
		}

		now := time.Now().UTC()
		candidate := &SchemaVersion{
			Version:     maxVersion + 1,
			Fingerprint: fp,
			Schema:      *schema,
			CreatedAt:   now,
			LastUsed:    now,
			Stats: SchemaStats{
				TotalRecords: batchRecords,
				TotalFields:  len(schema.Fields),
			},
		}
		err = s.store.InsertSchemaVersion(ctx, candidate)
		if err == nil {
			log.Printf("loader: new schema version %d (%d fields)", candidate.Version, len(schema.Fields))
			return candidate, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
		log.Printf("loader: lost version allocation race for v%d, retrying", candidate.Version)
	}

	return nil, fmt.Errorf("schema version allocation did not settle after %d attempts", maxAllocRetries)
}
