package service

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"inflow/internal/engine"
	"inflow/internal/storage"
	"inflow/internal/store"
)

// ── Run bookkeeping ────────────────────────────────────────

func TestRecordOutcome_RegistryFailureLogged(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	svc := NewLoaderService(storage.NewJobStore(db), store.NewMemory(), engine.Config{}, &MockEmitter{})

	// A closed registry fails every write; the failure must surface in
	// the log instead of vanishing.
	db.Close()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	svc.recordOutcome(&storage.LoadRun{JobID: "j1", Status: "success"}, "")

	out := buf.String()
	if !strings.Contains(out, "record run for j1") {
		t.Errorf("run write failure not logged: %q", out)
	}
	if !strings.Contains(out, "update status for j1") {
		t.Errorf("status write failure not logged: %q", out)
	}
}
