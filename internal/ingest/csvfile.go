package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"inflow/internal/engine"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads raw records from a local CSV file. Cell values stay strings;
// the engine's classifier owns all typing decisions.

type csvFileSource struct{}

func init() { RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() SourceSpec {
	return SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Absolute path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Required: false, Default: ",", Help: "Column delimiter (default: comma)"},
			{Key: "hasHeader", Label: "Has Header", Required: false, Default: "true", Help: "Whether the first row contains column names"},
		},
	}
}

func (s *csvFileSource) Read(ctx context.Context, cfg SourceConfig) (<-chan engine.RawRecord, <-chan error) {
	out := make(chan engine.RawRecord, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		headers, rows, err := readCSVFile(cfg)
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range rows {
			rec := make(engine.RawRecord, len(headers))
			for j, h := range headers {
				if j < len(row) {
					rec[h] = row[j]
				}
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func readCSVFile(cfg SourceConfig) ([]string, [][]string, error) {
	filePath, _ := cfg["filePath"].(string)
	if filePath == "" {
		return nil, nil, fmt.Errorf("filePath is required")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if delim, ok := cfg["delimiter"].(string); ok && len(delim) > 0 {
		reader.Comma = rune(delim[0])
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty csv file")
	}

	hasHeader := true
	if h, ok := cfg["hasHeader"].(string); ok {
		hasHeader = strings.ToLower(h) != "false"
	}

	var headers []string
	var rows [][]string
	if hasHeader {
		headers = records[0]
		rows = records[1:]
	} else {
		// Generate column names: col_1, col_2, ...
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col_%d", i+1)
		}
		rows = records
	}

	return headers, rows, nil
}
