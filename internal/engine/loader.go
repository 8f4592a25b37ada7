package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ── BatchLoader ────────────────────────────────────────────
// Orchestrates one upload end-to-end: infer schema → reconcile version
// → deduplicate → detect changes → persist. Input is processed in
// fixed-size chunks purely for memory bounding; the dedup seen set and
// the store carry state across chunks, so later chunks reconcile
// against earlier ones.
//
// A BatchLoader holds no mutable state of its own, so distinct batches
// may run concurrently on separate BatchLoader values sharing a store.

// BatchLoader runs raw batches through the full pipeline.
type BatchLoader struct {
	store Persistence
	cfg   Config
}

// NewBatchLoader creates a loader over the persistence collaborator.
// Zero-valued Config fields fall back to the package defaults.
func NewBatchLoader(store Persistence, cfg Config) *BatchLoader {
	return &BatchLoader{store: store, cfg: cfg.withDefaults()}
}

// Process loads a raw batch and returns the result the dashboard layer
// renders. On failure the returned LoadResult still carries per-chunk
// summaries for everything committed before the failing stage; writes
// already issued are not rolled back, and dedup on retry makes the
// outcome idempotent.
func (l *BatchLoader) Process(ctx context.Context, raw []RawRecord) (*LoadResult, error) {
	result := &LoadResult{}
	dedup := NewDeduplicator(l.store, l.cfg.IdentifierPriority)
	tracker := NewChangeTracker(l.cfg.MonitoredFields)
	versions := NewSchemaVersionStore(l.store)
	inferrer := &SchemaInferrer{SampleCap: l.cfg.SampleValueCap}

	fieldsSeen := make(map[string]struct{})

	for start, idx := 0, 0; start < len(raw); start, idx = start+l.cfg.BatchSize, idx+1 {
		end := start + l.cfg.BatchSize
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[start:end]

		summary, err := l.processChunk(ctx, chunk, idx, dedup, tracker, versions, inferrer, fieldsSeen, result)
		if summary != nil {
			result.Chunks = append(result.Chunks, *summary)
			result.Inserted += summary.Inserted
			result.DuplicatesSkipped += summary.Duplicates
			result.SchemaVersion = summary.SchemaVersion
		}
		if err != nil {
			result.FieldCount = len(fieldsSeen)
			return result, fmt.Errorf("chunk %d: %w", idx, err)
		}
	}

	result.FieldCount = len(fieldsSeen)
	log.Printf("loader: batch done — %d inserted, %d duplicates skipped, %d changes, schema v%d",
		result.Inserted, result.DuplicatesSkipped, len(result.Changes), result.SchemaVersion)
	return result, nil
}

// processChunk runs one chunk through every stage. The summary is
// returned even on error once the schema stage succeeded, so callers
// can tell which writes were committed.
func (l *BatchLoader) processChunk(
	ctx context.Context,
	chunk []RawRecord,
	idx int,
	dedup *Deduplicator,
	tracker *ChangeTracker,
	versions *SchemaVersionStore,
	inferrer *SchemaInferrer,
	fieldsSeen map[string]struct{},
	result *LoadResult,
) (*ChunkSummary, error) {
	schema, normalized := inferrer.Infer(chunk)
	for _, f := range schema.Fields {
		fieldsSeen[f.Name] = struct{}{}
	}

	version, err := versions.Reconcile(ctx, schema, len(chunk))
	if err != nil {
		return nil, fmt.Errorf("reconcile schema: %w", err)
	}
	summary := &ChunkSummary{Index: idx, Records: len(chunk), SchemaVersion: version.Version}

	classified, duplicates, err := dedup.Filter(ctx, normalized)
	if err != nil {
		return summary, fmt.Errorf("deduplicate: %w", err)
	}
	summary.Duplicates = duplicates

	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339)

	var toPersist []PersistRecord
	var events []ChangeEvent
	for _, rec := range classified {
		switch rec.Class {
		case ClassDuplicate:
			continue
		case ClassNew:
			rec.Record[LoadedAtField] = stamp
			toPersist = append(toPersist, PersistRecord{Identifier: rec.Identifier, Record: rec.Record})
		case ClassUpdate:
			events = append(events, tracker.Detect(*rec.Identifier, rec.Existing, rec.Record, now)...)
			merged := mergeRecords(rec.Existing, rec.Record)
			merged[LoadedAtField] = stamp
			toPersist = append(toPersist, PersistRecord{Identifier: rec.Identifier, Record: merged})
		}
	}

	if len(events) > 0 {
		if err := l.store.AppendChangeEvents(ctx, events); err != nil {
			return summary, fmt.Errorf("append change events: %w", err)
		}
		result.Changes = append(result.Changes, events...)
		summary.Changes = len(events)
	}

	if len(toPersist) > 0 {
		if err := l.store.UpsertRecords(ctx, toPersist); err != nil {
			return summary, fmt.Errorf("upsert records: %w", err)
		}
	}
	summary.Inserted = len(toPersist)
	return summary, nil
}

// mergeRecords overlays the incoming record's fields on a copy of the
// stored one, preserving stored fields the incoming upload dropped.
func mergeRecords(existing, incoming NormalizedRecord) NormalizedRecord {
	merged := make(NormalizedRecord, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
