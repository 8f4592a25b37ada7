package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"inflow/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Job store tests against a throwaway SQLite file
// ─────────────────────────────────────────────────────────────

func newStore(t *testing.T) *storage.JobStore {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewJobStore(db)
}

func TestJobStore_CreateAndGet(t *testing.T) {
	store := newStore(t)

	job := &storage.LoadJob{
		Name:       "nightly users",
		SourceType: "csv_file",
		SourceCfg:  map[string]any{"filePath": "/data/users.csv"},
		Enabled:    true,
	}
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" {
		t.Fatal("CreateJob did not assign an ID")
	}
	if job.TriggerType != "manual" {
		t.Errorf("default trigger = %q, want manual", job.TriggerType)
	}

	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "nightly users" || got.SourceType != "csv_file" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.SourceCfg["filePath"] != "/data/users.csv" {
		t.Errorf("source config lost: %#v", got.SourceCfg)
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetJob("nope"); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}

func TestJobStore_UpdateAndStatus(t *testing.T) {
	store := newStore(t)

	job := &storage.LoadJob{Name: "orig", SourceType: "json_file", Enabled: true}
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	job.Name = "renamed"
	job.TriggerType = "schedule"
	job.TriggerConfig = "0 2 * * *"
	if err := store.UpdateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateJobStatus(job.ID, "success", ""); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "renamed" || got.TriggerConfig != "0 2 * * *" {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.LastStatus != "success" {
		t.Errorf("last status = %q, want success", got.LastStatus)
	}
	if got.LastRunAt.IsZero() {
		t.Error("last_run_at not set by UpdateJobStatus")
	}
}

func TestJobStore_ListEnabledTriggeredJobs(t *testing.T) {
	store := newStore(t)

	jobs := []*storage.LoadJob{
		{Name: "manual", SourceType: "csv_file", Enabled: true},
		{Name: "cron", SourceType: "csv_file", TriggerType: "schedule", TriggerConfig: "@hourly", Enabled: true},
		{Name: "watch", SourceType: "json_file", TriggerType: "file_watch", TriggerConfig: "/drop", Enabled: true},
		{Name: "disabled cron", SourceType: "csv_file", TriggerType: "schedule", TriggerConfig: "@hourly", Enabled: false},
	}
	for _, j := range jobs {
		if err := store.CreateJob(j); err != nil {
			t.Fatal(err)
		}
	}

	triggered, err := store.ListEnabledTriggeredJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 2 {
		t.Fatalf("triggered jobs = %d, want 2: %+v", len(triggered), triggered)
	}
	for _, j := range triggered {
		if j.Name != "cron" && j.Name != "watch" {
			t.Errorf("unexpected triggered job %q", j.Name)
		}
	}

	all, err := store.ListJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("all jobs = %d, want 4", len(all))
	}
}

func TestJobStore_DeleteRemovesRuns(t *testing.T) {
	store := newStore(t)

	job := &storage.LoadJob{Name: "doomed", SourceType: "csv_file", Enabled: true}
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	run := &storage.LoadRun{
		JobID:      job.ID,
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Status:     "success",
		Inserted:   10,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteJob(job.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetJob(job.ID); err == nil {
		t.Fatal("job still present after delete")
	}
	runs, err := store.ListRuns(job.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("runs survived job delete: %+v", runs)
	}
}

func TestJobStore_RunHistoryOrder(t *testing.T) {
	store := newStore(t)

	job := &storage.LoadJob{Name: "history", SourceType: "csv_file", Enabled: true}
	if err := store.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		run := &storage.LoadRun{
			JobID:      job.ID,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 10*time.Second),
			Status:     "success",
			Inserted:   i,
		}
		if err := store.CreateRun(run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(job.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2 (limit)", len(runs))
	}
	// Newest first.
	if runs[0].Inserted != 2 || runs[1].Inserted != 1 {
		t.Errorf("runs out of order: %+v", runs)
	}
}
