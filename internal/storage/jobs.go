package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ── Load jobs ──────────────────────────────────────────────
// A LoadJob is a configured ingestion: a raw-record source plus an
// optional trigger (cron schedule or file watch). Runs are recorded in
// load_runs with the numbers the dashboard layer renders.

// LoadJob is a persisted ingestion configuration.
type LoadJob struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SourceType    string         `json:"sourceType"`
	SourceCfg     map[string]any `json:"sourceConfig"`
	TriggerType   string         `json:"triggerType"`   // "manual" | "schedule" | "file_watch"
	TriggerConfig string         `json:"triggerConfig"` // cron expression or watch path
	Enabled       bool           `json:"enabled"`
	LastRunAt     time.Time      `json:"lastRunAt"`
	LastStatus    string         `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError     string         `json:"lastError"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// LoadRun is a historical record of one job execution.
type LoadRun struct {
	ID            string    `json:"id"`
	JobID         string    `json:"jobId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Status        string    `json:"status"`
	Inserted      int       `json:"inserted"`
	Duplicates    int       `json:"duplicates"`
	Changes       int       `json:"changes"`
	SchemaVersion int       `json:"schemaVersion"`
	Error         string    `json:"error,omitempty"`
}

// JobStore persists load jobs and their run history.
type JobStore struct {
	db *DB
}

// NewJobStore creates a JobStore over an open DB.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

// ── Job CRUD ───────────────────────────────────────────────

func (s *JobStore) CreateJob(job *LoadJob) error {
	now := time.Now()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.TriggerType == "" {
		job.TriggerType = "manual"
	}

	srcCfg, _ := json.Marshal(job.SourceCfg)
	_, err := s.db.conn.Exec(
		`INSERT INTO load_jobs (id, name, source_type, source_config, trigger_type,
		 trigger_config, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceType, string(srcCfg),
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *JobStore) GetJob(id string) (*LoadJob, error) {
	row := s.db.conn.QueryRow(
		`SELECT id, name, source_type, source_config, trigger_type, trigger_config,
		 enabled, last_run_at, last_status, last_error, created_at, updated_at
		 FROM load_jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("load job not found: %s", id)
	}
	return job, err
}

func (s *JobStore) UpdateJob(job *LoadJob) error {
	job.UpdatedAt = time.Now()
	srcCfg, _ := json.Marshal(job.SourceCfg)
	_, err := s.db.conn.Exec(
		`UPDATE load_jobs SET name=?, source_type=?, source_config=?, trigger_type=?,
		 trigger_config=?, enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.SourceType, string(srcCfg),
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.UpdatedAt, job.ID,
	)
	return err
}

func (s *JobStore) UpdateJobStatus(id, status, errMsg string) error {
	_, err := s.db.conn.Exec(
		`UPDATE load_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		time.Now(), status, errMsg, time.Now(), id,
	)
	return err
}

func (s *JobStore) DeleteJob(id string) error {
	// Delete run history first.
	if _, err := s.db.conn.Exec(`DELETE FROM load_runs WHERE job_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.conn.Exec(`DELETE FROM load_jobs WHERE id = ?`, id)
	return err
}

func (s *JobStore) ListJobs() ([]LoadJob, error) {
	return s.queryJobs(
		`SELECT id, name, source_type, source_config, trigger_type, trigger_config,
		 enabled, last_run_at, last_status, last_error, created_at, updated_at
		 FROM load_jobs ORDER BY created_at ASC`,
	)
}

// ListEnabledTriggeredJobs returns enabled jobs with a schedule or
// file-watch trigger.
func (s *JobStore) ListEnabledTriggeredJobs() ([]LoadJob, error) {
	return s.queryJobs(
		`SELECT id, name, source_type, source_config, trigger_type, trigger_config,
		 enabled, last_run_at, last_status, last_error, created_at, updated_at
		 FROM load_jobs WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		 ORDER BY created_at ASC`,
	)
}

func (s *JobStore) queryJobs(query string) ([]LoadJob, error) {
	rows, err := s.db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []LoadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*LoadJob, error) {
	job := &LoadJob{}
	var srcCfg string
	var lastRun sql.NullTime
	if err := row.Scan(
		&job.ID, &job.Name, &job.SourceType, &srcCfg,
		&job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&lastRun, &job.LastStatus, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		job.LastRunAt = lastRun.Time
	}
	json.Unmarshal([]byte(srcCfg), &job.SourceCfg)
	return job, nil
}

// ── Run history ────────────────────────────────────────────

func (s *JobStore) CreateRun(run *LoadRun) error {
	run.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO load_runs (id, job_id, started_at, finished_at, status,
		 inserted, duplicates, changes, schema_version, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.StartedAt, run.FinishedAt, run.Status,
		run.Inserted, run.Duplicates, run.Changes, run.SchemaVersion, run.Error,
	)
	return err
}

func (s *JobStore) ListRuns(jobID string, limit int) ([]LoadRun, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, started_at, finished_at, status,
		 inserted, duplicates, changes, schema_version, error
		 FROM load_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []LoadRun
	for rows.Next() {
		var r LoadRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.Inserted, &r.Duplicates, &r.Changes, &r.SchemaVersion, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
