package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"inflow/internal/engine"
	"inflow/internal/ingest"
	"inflow/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Loader Service — business logic for load jobs
// ─────────────────────────────────────────────────────────────

// LoaderService manages load jobs, scheduling, and file watching. Each
// run reads the job's source, hands the raw batch to the engine, and
// records the LoadResult numbers in the run history.
type LoaderService struct {
	jobs        *storage.JobStore
	store       engine.Persistence
	engineCfg   engine.Config
	emitter     EventEmitter
	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewLoaderService creates a LoaderService ready for use.
func NewLoaderService(
	jobs *storage.JobStore,
	store engine.Persistence,
	engineCfg engine.Config,
	emitter EventEmitter,
) *LoaderService {
	return &LoaderService{
		jobs:      jobs,
		store:     store,
		engineCfg: engineCfg,
		emitter:   emitter,
	}
}

// ── Job CRUD ───────────────────────────────────────────────

// CreateJobInput is the caller-facing shape for creating a job.
type CreateJobInput struct {
	Name          string         `json:"name"`
	SourceType    string         `json:"sourceType"`
	SourceConfig  map[string]any `json:"sourceConfig"`
	TriggerType   string         `json:"triggerType"`
	TriggerConfig string         `json:"triggerConfig"`
	Enabled       bool           `json:"enabled"`
}

func (s *LoaderService) CreateJob(ctx context.Context, input CreateJobInput) (*storage.LoadJob, error) {
	if _, err := ingest.GetSource(input.SourceType); err != nil {
		return nil, err
	}

	job := &storage.LoadJob{
		Name:          input.Name,
		SourceType:    input.SourceType,
		SourceCfg:     input.SourceConfig,
		TriggerType:   input.TriggerType,
		TriggerConfig: input.TriggerConfig,
		Enabled:       input.Enabled,
	}
	if err := s.jobs.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create load job: %w", err)
	}
	s.RestartWatchers()
	return job, nil
}

func (s *LoaderService) GetJob(id string) (*storage.LoadJob, error) {
	return s.jobs.GetJob(id)
}

func (s *LoaderService) ListJobs() ([]storage.LoadJob, error) {
	return s.jobs.ListJobs()
}

func (s *LoaderService) DeleteJob(id string) error {
	err := s.jobs.DeleteJob(id)
	if err == nil {
		s.RestartWatchers()
	}
	return err
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a single load job synchronously and emits events on
// completion. Concurrent runs of the same job are refused; distinct
// jobs may run in parallel.
func (s *LoaderService) RunJob(ctx context.Context, id string) (*engine.LoadResult, error) {
	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("job %s is already running", id)
	}
	defer s.runningJobs.Unlock(id)

	job, err := s.jobs.GetJob(id)
	if err != nil {
		return nil, err
	}

	if err := s.jobs.UpdateJobStatus(id, "running", ""); err != nil {
		log.Printf("load job: update status for %s: %v", id, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	result, runErr := s.runBatch(runCtx, job)

	run := &storage.LoadRun{
		JobID:      id,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Status:     "success",
	}
	if result != nil {
		run.Inserted = result.Inserted
		run.Duplicates = result.DuplicatesSkipped
		run.Changes = len(result.Changes)
		run.SchemaVersion = result.SchemaVersion
	}
	errMsg := ""
	if runErr != nil {
		run.Status = "error"
		run.Error = runErr.Error()
		errMsg = runErr.Error()
	}
	s.recordOutcome(run, errMsg)

	if runErr == nil {
		s.emitter.Emit(ctx, "load:completed", map[string]any{
			"jobId":    id,
			"inserted": run.Inserted,
			"schema":   run.SchemaVersion,
		})
	}
	return result, runErr
}

// recordOutcome persists the run entry and the job's last status.
// Registry write failures are logged, not returned; the load itself
// already succeeded or failed on its own terms.
func (s *LoaderService) recordOutcome(run *storage.LoadRun, errMsg string) {
	if err := s.jobs.CreateRun(run); err != nil {
		log.Printf("load job: record run for %s: %v", run.JobID, err)
	}
	if err := s.jobs.UpdateJobStatus(run.JobID, run.Status, errMsg); err != nil {
		log.Printf("load job: update status for %s: %v", run.JobID, err)
	}
}

// runBatch reads the job's source and pushes the batch through the engine.
func (s *LoaderService) runBatch(ctx context.Context, job *storage.LoadJob) (*engine.LoadResult, error) {
	raw, err := ingest.ReadAll(ctx, job.SourceType, ingest.SourceConfig(job.SourceCfg))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	loader := engine.NewBatchLoader(s.store, s.engineCfg)
	return loader.Process(ctx, raw)
}

// ListSources returns the available raw-record source descriptors.
func (s *LoaderService) ListSources() []ingest.SourceSpec {
	return ingest.ListSources()
}

// ListRuns returns the last 50 runs for a job.
func (s *LoaderService) ListRuns(jobID string) ([]storage.LoadRun, error) {
	return s.jobs.ListRuns(jobID, 50)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds them
// from the job registry.
func (s *LoaderService) RestartWatchers() {
	s.stopWatchers()

	jobs, err := s.jobs.ListEnabledTriggeredJobs()
	if err != nil {
		log.Printf("load watcher: failed to list jobs: %v", err)
		return
	}

	type watchEntry struct {
		jobID string
		path  string
	}
	var scheduled []storage.LoadJob
	var entries []watchEntry
	for _, j := range jobs {
		if j.TriggerConfig == "" {
			continue
		}
		switch j.TriggerType {
		case "schedule":
			scheduled = append(scheduled, j)
		case "file_watch":
			entries = append(entries, watchEntry{jobID: j.ID, path: j.TriggerConfig})
		}
	}
	if len(scheduled) == 0 && len(entries) == 0 {
		return
	}

	// Triggered runs outlive the request that rebuilt the watchers, so
	// they get their own context, cancelled only by Stop or the next
	// rebuild. Tying them to the caller's context would fail every
	// later run once that request finished.
	runCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	// ── Cron jobs ──
	if len(scheduled) > 0 {
		c := cron.New()
		for _, j := range scheduled {
			jid := j.ID
			_, err := c.AddFunc(j.TriggerConfig, func() {
				log.Printf("load cron: running job %s", jid)
				if _, err := s.RunJob(runCtx, jid); err != nil {
					log.Printf("load cron: job %s failed: %v", jid, err)
				}
			})
			if err != nil {
				log.Printf("load cron: invalid expression %q for job %s: %v", j.TriggerConfig, j.ID, err)
			}
		}
		c.Start()
		s.cronSched = c
		log.Printf("load cron: scheduled %d job(s)", len(scheduled))
	}

	// ── File watchers ──
	if len(entries) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("load watcher: failed to create watcher: %v", err)
		return
	}
	s.watcher = watcher

	pathToJob := make(map[string]string)
	watchedDirs := make(map[string]bool)
	for _, e := range entries {
		absPath, err := filepath.Abs(e.path)
		if err != nil {
			log.Printf("load watcher: bad path %q: %v", e.path, err)
			continue
		}
		pathToJob[absPath] = e.jobID

		dir := filepath.Dir(absPath)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				log.Printf("load watcher: failed to watch dir %q: %v", dir, err)
			} else {
				watchedDirs[dir] = true
			}
		}
	}

	go func() {
		timers := make(map[string]*time.Timer)
		for {
			select {
			case <-runCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				absPath, _ := filepath.Abs(event.Name)
				jobID, ok := pathToJob[absPath]
				if !ok {
					continue
				}
				// Debounce: editors fire several events per save.
				if t, exists := timers[jobID]; exists {
					t.Stop()
				}
				jid := jobID
				timers[jobID] = time.AfterFunc(500*time.Millisecond, func() {
					log.Printf("load watcher: file changed %q, running job %s", absPath, jid)
					if _, err := s.RunJob(runCtx, jid); err != nil {
						log.Printf("load watcher: run failed for job %s: %v", jid, err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("load watcher: error: %v", err)
			}
		}
	}()

	log.Printf("load watcher: watching %d file(s)", len(pathToJob))
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *LoaderService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *LoaderService) Stop() {
	s.stopWatchers()
}

func (s *LoaderService) stopWatchers() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
