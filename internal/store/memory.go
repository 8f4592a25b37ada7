package store

import (
	"context"
	"sync"
	"time"

	"inflow/internal/engine"
)

// ── Memory store ───────────────────────────────────────────
// In-memory engine.Persistence with the same semantics as the Mongo
// store, including version-conflict detection. Used by engine tests
// and dry runs; safe for concurrent use.

// Memory is an in-memory document store.
type Memory struct {
	mu       sync.Mutex
	versions []engine.SchemaVersion
	keyed    map[string]engine.NormalizedRecord // identifier key → record
	unkeyed  []engine.NormalizedRecord
	changes  []engine.ChangeEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{keyed: make(map[string]engine.NormalizedRecord)}
}

func (m *Memory) FindSchemaVersions(ctx context.Context) ([]engine.SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.SchemaVersion, len(m.versions))
	copy(out, m.versions)
	return out, nil
}

func (m *Memory) InsertSchemaVersion(ctx context.Context, v *engine.SchemaVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.versions {
		if existing.Version == v.Version || existing.Fingerprint == v.Fingerprint {
			return engine.ErrVersionConflict
		}
	}
	m.versions = append(m.versions, *v)
	return nil
}

func (m *Memory) TouchSchemaVersion(ctx context.Context, version int, lastUsed time.Time, records int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.versions {
		if m.versions[i].Version == version {
			m.versions[i].LastUsed = lastUsed
			m.versions[i].Stats.TotalRecords += records
			return nil
		}
	}
	return nil
}

func (m *Memory) FindByIdentifier(ctx context.Context, id engine.Identifier) (engine.NormalizedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.keyed[id.Key()]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (m *Memory) UpsertRecords(ctx context.Context, recs []engine.PersistRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if r.Identifier == nil {
			m.unkeyed = append(m.unkeyed, cloneRecord(r.Record))
			continue
		}
		m.keyed[r.Identifier.Key()] = cloneRecord(r.Record)
	}
	return nil
}

func (m *Memory) AppendChangeEvents(ctx context.Context, events []engine.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, events...)
	return nil
}

// RecordCount returns the number of stored records.
func (m *Memory) RecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keyed) + len(m.unkeyed)
}

// ChangeEvents returns a copy of every appended change event.
func (m *Memory) ChangeEvents() []engine.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.ChangeEvent, len(m.changes))
	copy(out, m.changes)
	return out
}

func cloneRecord(rec engine.NormalizedRecord) engine.NormalizedRecord {
	out := make(engine.NormalizedRecord, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
