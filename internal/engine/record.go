package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ── Records & Schema ───────────────────────────────────────
// Common data shapes flowing through the load pipeline.
// Raw records come from a source as loosely-typed maps; the engine
// classifies and normalizes them before anything is persisted.

// FieldType is the closed set of semantic types the classifier can assign.
type FieldType string

const (
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeString  FieldType = "string"
	TypeEmail   FieldType = "email"
	TypeDate    FieldType = "date"
	TypeURL     FieldType = "url"
	TypeBoolean FieldType = "boolean"
	TypeNull    FieldType = "null"
)

// LoadedAtField is the system-assigned timestamp stamped on every
// persisted record (ISO-8601 string).
const LoadedAtField = "_loaded_at"

// RawRecord is one input row as produced by a source. Values are
// untyped scalars (string, number, bool or nil); a field that is not
// present in the map is absent, which is distinct from present-but-nil.
type RawRecord map[string]any

// NormalizedRecord is a record after schema inference. Every value is
// well-typed per the field's resolved FieldType (int64, float64, bool,
// string or nil). Absent fields stay absent.
type NormalizedRecord map[string]any

// SchemaField is one entry of an inferred schema: the resolved type
// plus up to SampleValueCap raw example values, in first-seen order.
type SchemaField struct {
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Samples []any     `json:"sample_values"`
}

// Schema is the ordered field→type mapping inferred for a batch.
// Field order is first-appearance order across the batch; it matters
// for display only, never for equality.
type Schema struct {
	Fields []SchemaField `json:"fields"`
}

// Field returns the schema entry for name, or nil if absent.
func (s *Schema) Field(name string) *SchemaField {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Fingerprint returns a stable digest of the {field→type} projection.
// Sample values are excluded, and field order does not matter: two
// batches with the same names and types fingerprint identically.
func (s *Schema) Fingerprint() string {
	pairs := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		pairs[i] = f.Name + "=" + string(f.Type)
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum[:])
}

// Equal reports structural equality: same field-name set and same type
// per field. Sample values and ordering are ignored.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		o := other.Field(s.Fields[i].Name)
		if o == nil || o.Type != s.Fields[i].Type {
			return false
		}
	}
	return true
}

// ── Schema versions ────────────────────────────────────────

// SchemaStats accumulates usage counters on a schema version.
type SchemaStats struct {
	TotalRecords int `json:"total_records"`
	TotalFields  int `json:"total_fields"`
}

// SchemaVersion is a persisted, numbered snapshot of a structurally
// distinct schema. Version numbers start at 1 and only grow; stats and
// last_used are updated every time the version is reused.
type SchemaVersion struct {
	Version     int         `json:"version"`
	Fingerprint string      `json:"fingerprint"`
	Schema      Schema      `json:"schema"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUsed    time.Time   `json:"last_used"`
	Stats       SchemaStats `json:"stats"`
}

// ── Identity & change events ───────────────────────────────

// Identifier is the identity key used to recognize the same entity
// across uploads: the first field from the configured priority list
// that is present (and non-empty) on a record, with its value.
type Identifier struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Key returns a canonical string form usable as a map key.
func (id Identifier) Key() string {
	return id.Field + "=" + stringify(id.Value)
}

// ChangeEvent records one monitored field whose value changed between
// the stored record and an incoming record with the same identifier.
type ChangeEvent struct {
	Identifier Identifier `json:"identifier"`
	Field      string     `json:"field"`
	OldValue   any        `json:"old_value"`
	NewValue   any        `json:"new_value"`
	ChangeType string     `json:"change_type"` // always "update"
	Timestamp  time.Time  `json:"timestamp"`
}

// ── Load results ───────────────────────────────────────────

// ChunkSummary reports the outcome of one processed chunk, so a caller
// of a partially-failed batch knows how much was actually committed.
type ChunkSummary struct {
	Index         int `json:"index"`
	Records       int `json:"records"`
	Inserted      int `json:"inserted"`
	Duplicates    int `json:"duplicates"`
	Changes       int `json:"changes"`
	SchemaVersion int `json:"schemaVersion"`
}

// LoadResult is what the upload/dashboard layer renders after a batch.
type LoadResult struct {
	Inserted          int            `json:"inserted"`
	SchemaVersion     int            `json:"schemaVersion"`
	DuplicatesSkipped int            `json:"duplicatesSkipped"`
	Changes           []ChangeEvent  `json:"changes"`
	FieldCount        int            `json:"fieldCount"`
	Chunks            []ChunkSummary `json:"chunks"`
}

// ── Engine configuration ───────────────────────────────────

// Config tunes one load. Zero values fall back to the defaults below.
type Config struct {
	BatchSize          int      // chunk size for memory bounding
	SampleValueCap     int      // max sample values retained per field
	MonitoredFields    []string // fields tracked for change events
	IdentifierPriority []string // identity fields, tried in order
}

// Defaults mirror the monitored/identity sets of the original loader.
var (
	DefaultBatchSize          = 500
	DefaultSampleValueCap     = 5
	DefaultMonitoredFields    = []string{"price", "discount", "score", "rating", "salary"}
	DefaultIdentifierPriority = []string{"id", "email", "user", "name"}
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SampleValueCap <= 0 {
		c.SampleValueCap = DefaultSampleValueCap
	}
	if len(c.MonitoredFields) == 0 {
		c.MonitoredFields = DefaultMonitoredFields
	}
	if len(c.IdentifierPriority) == 0 {
		c.IdentifierPriority = DefaultIdentifierPriority
	}
	return c
}
