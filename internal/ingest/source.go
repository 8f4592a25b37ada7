package ingest

import (
	"context"
	"fmt"
	"sync"

	"inflow/internal/engine"
)

// ── Source ──────────────────────────────────────────────────
// A Source extracts raw records from an external system and streams
// them into the load pipeline. One file per source type; compile-time
// registration via init(). Sources never type values — typing belongs
// to the engine's classifier.

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Help     string `json:"help,omitempty"`
}

// SourceSpec describes a source type and its config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every raw-record source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Read streams raw records from the source into a channel, in
	// file order. The channel is closed when all records have been
	// read or ctx is cancelled. Errors are sent on the error channel
	// (buffered size 1).
	Read(ctx context.Context, cfg SourceConfig) (<-chan engine.RawRecord, <-chan error)
}

// ── Source Registry ────────────────────────────────────────

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type. Called from
// init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	return specs
}

// ReadAll drains a source into a slice. Convenience for callers that
// hand a whole file to the loader at once.
func ReadAll(ctx context.Context, typ string, cfg SourceConfig) ([]engine.RawRecord, error) {
	source, err := GetSource(typ)
	if err != nil {
		return nil, err
	}
	recCh, errCh := source.Read(ctx, cfg)

	var records []engine.RawRecord
	for rec := range recCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}
