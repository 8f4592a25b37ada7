package engine

import (
	"context"
	"errors"
	"time"
)

// ── Persistence boundary ───────────────────────────────────
// The engine never talks to a database directly; everything it needs
// from the document store goes through this interface. Implementations
// live in internal/store (MongoDB, and an in-memory one for tests).

// ErrVersionConflict is returned by InsertSchemaVersion when a
// concurrent batch already claimed the version number or fingerprint.
// The caller re-fetches and retries rather than failing the batch.
var ErrVersionConflict = errors.New("schema version conflict")

// PersistRecord pairs a normalized record with the identifier it is
// upserted under. A nil identifier means plain insert: the record has
// no identity field and can never be matched again.
type PersistRecord struct {
	Identifier *Identifier
	Record     NormalizedRecord
}

// Persistence is the document-store contract consumed by the engine.
// All calls may fail with connectivity errors; the engine propagates
// those and reports the batch as failed (writes already issued are not
// rolled back — dedup on retry makes the outcome idempotent).
type Persistence interface {
	// FindSchemaVersions returns every stored schema version.
	FindSchemaVersions(ctx context.Context) ([]SchemaVersion, error)

	// InsertSchemaVersion persists a new version. Returns
	// ErrVersionConflict when the version number or fingerprint is
	// already taken by a concurrent writer.
	InsertSchemaVersion(ctx context.Context, v *SchemaVersion) error

	// TouchSchemaVersion marks an existing version as reused: bumps
	// last_used and adds records to its stats.
	TouchSchemaVersion(ctx context.Context, version int, lastUsed time.Time, records int) error

	// FindByIdentifier returns the stored record matching the
	// identifier, or nil when there is none.
	FindByIdentifier(ctx context.Context, id Identifier) (NormalizedRecord, error)

	// UpsertRecords writes the final record set: upsert by identifier
	// where one exists, plain insert otherwise.
	UpsertRecords(ctx context.Context, recs []PersistRecord) error

	// AppendChangeEvents appends change events (append-only stream).
	AppendChangeEvents(ctx context.Context, events []ChangeEvent) error
}
