package ingest_test

import (
	"context"
	"testing"

	"inflow/internal/ingest"
)

// ─────────────────────────────────────────────────────────────
// CSV file source tests
// ─────────────────────────────────────────────────────────────

func TestCSVFile_WithHeader(t *testing.T) {
	path := writeFile(t, "users.csv", "id,name,age\n1,Alice,30\n2,Bob,25\n")

	records, err := ingest.ReadAll(context.Background(), "csv_file", ingest.SourceConfig{
		"filePath": path,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// Cells stay strings; the classifier owns typing.
	if records[0]["age"] != "30" {
		t.Errorf("age = %#v, want string \"30\"", records[0]["age"])
	}
	if records[1]["name"] != "Bob" {
		t.Errorf("name = %#v, want Bob", records[1]["name"])
	}
}

func TestCSVFile_NoHeader(t *testing.T) {
	path := writeFile(t, "raw.csv", "1,Alice\n2,Bob\n")

	records, err := ingest.ReadAll(context.Background(), "csv_file", ingest.SourceConfig{
		"filePath":  path,
		"hasHeader": "false",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0]["col_1"] != "1" || records[0]["col_2"] != "Alice" {
		t.Errorf("generated columns wrong: %#v", records[0])
	}
}

func TestCSVFile_CustomDelimiter(t *testing.T) {
	path := writeFile(t, "semi.csv", "id;name\n1;Alice\n")

	records, err := ingest.ReadAll(context.Background(), "csv_file", ingest.SourceConfig{
		"filePath":  path,
		"delimiter": ";",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["name"] != "Alice" {
		t.Errorf("unexpected records: %#v", records)
	}
}

func TestCSVFile_EmptyTrailingCell(t *testing.T) {
	// Empty cells stay empty strings here; the classifier treats them
	// as null downstream.
	path := writeFile(t, "ragged.csv", "id,name,city\n1,Alice,Lisbon\n2,Bob,\n")

	records, err := ingest.ReadAll(context.Background(), "csv_file", ingest.SourceConfig{
		"filePath": path,
	})
	if err != nil {
		t.Fatal(err)
	}
	if records[1]["city"] != "" {
		t.Errorf("city = %#v, want empty string", records[1]["city"])
	}
}

func TestCSVFile_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", "")

	_, err := ingest.ReadAll(context.Background(), "csv_file", ingest.SourceConfig{
		"filePath": path,
	})
	if err == nil {
		t.Fatal("expected error for empty csv file")
	}
}

func TestListSources_IncludesFileSources(t *testing.T) {
	types := map[string]bool{}
	for _, spec := range ingest.ListSources() {
		types[spec.Type] = true
	}
	if !types["json_file"] || !types["csv_file"] {
		t.Errorf("registry missing file sources: %v", types)
	}
}

func TestGetSource_Unknown(t *testing.T) {
	if _, err := ingest.GetSource("bogus"); err == nil {
		t.Fatal("expected error for unknown source type")
	}
}
