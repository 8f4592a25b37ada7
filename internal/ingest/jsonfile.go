package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"inflow/internal/engine"
)

// ── JSON File Source ────────────────────────────────────────
// Reads raw records from a local JSON file: either a root-level array
// of objects, a single object, or an array nested under a dot path.

type jsonFileSource struct{}

func init() { RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() SourceSpec {
	return SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Absolute path to the JSON file"},
			{Key: "dataPath", Label: "Data Path", Required: false, Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Read(ctx context.Context, cfg SourceConfig) (<-chan engine.RawRecord, <-chan error) {
	out := make(chan engine.RawRecord, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := readJSONFile(cfg)
		if err != nil {
			errCh <- err
			return
		}
		for _, rec := range records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func readJSONFile(cfg SourceConfig) ([]engine.RawRecord, error) {
	filePath, _ := cfg["filePath"].(string)
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	// Navigate to dataPath if specified.
	if dataPath, ok := cfg["dataPath"].(string); ok && dataPath != "" {
		for _, part := range strings.Split(dataPath, ".") {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
			raw = m[part]
		}
	}

	return toRawRecords(raw)
}

// toRawRecords flattens the decoded JSON into a record slice. A single
// object becomes a one-record batch; non-object array entries are
// rejected rather than silently dropped.
func toRawRecords(raw any) ([]engine.RawRecord, error) {
	switch v := raw.(type) {
	case []any:
		records := make([]engine.RawRecord, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d: expected object, got %T", i, item)
			}
			records = append(records, engine.RawRecord(obj))
		}
		return records, nil
	case map[string]any:
		return []engine.RawRecord{engine.RawRecord(v)}, nil
	default:
		return nil, fmt.Errorf("expected array or object at data root, got %T", raw)
	}
}
