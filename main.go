package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inflow/internal/config"
	"inflow/internal/engine"
	"inflow/internal/ingest"
	"inflow/internal/service"
	"inflow/internal/storage"
	"inflow/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "inflow",
		Short: "Schema-inferring record loader for semi-structured data",
		Long: "inflow ingests JSON/CSV records with no declared schema and produces a\n" +
			"normalized, deduplicated, versioned record stream in a document store.",
		SilenceUsage: true,
	}
	root.AddCommand(
		newLoadCmd(),
		newJobsCmd(),
		newWatchCmd(),
		newVersionsCmd(),
		newChangesCmd(),
		newSourcesCmd(),
	)
	return root
}

// connectStore dials the configured MongoDB.
func connectStore(ctx context.Context, cfg config.Config) (*store.Mongo, error) {
	return store.ConnectMongo(ctx, store.MongoConfig{
		URI:               cfg.MongoURI,
		Database:          cfg.MongoDatabase,
		RecordsCollection: cfg.RecordsCollection,
		SchemaCollection:  cfg.SchemaCollection,
		ChangesCollection: cfg.ChangesCollection,
	})
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		BatchSize:          cfg.BatchSize,
		SampleValueCap:     cfg.SampleValueCap,
		MonitoredFields:    cfg.MonitoredFields,
		IdentifierPriority: cfg.IdentifierPriority,
	}
}

// sourceForFile picks a registered source type from the file extension.
func sourceForFile(path string) (string, ingest.SourceConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".json":
		return "json_file", ingest.SourceConfig{"filePath": abs}, nil
	case ".csv":
		return "csv_file", ingest.SourceConfig{"filePath": abs}, nil
	default:
		return "", nil, fmt.Errorf("cannot infer source type from %q (expected .json or .csv)", path)
	}
}

// ── load ───────────────────────────────────────────────────

func newLoadCmd() *cobra.Command {
	var dataPath, delimiter string
	var noHeader bool

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load one JSON or CSV file through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := cmd.Context()

			typ, srcCfg, err := sourceForFile(args[0])
			if err != nil {
				return err
			}
			if dataPath != "" {
				srcCfg["dataPath"] = dataPath
			}
			if delimiter != "" {
				srcCfg["delimiter"] = delimiter
			}
			if noHeader {
				srcCfg["hasHeader"] = "false"
			}

			raw, err := ingest.ReadAll(ctx, typ, srcCfg)
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}
			log.Printf("loader: read %d records from %s", len(raw), args[0])

			st, err := connectStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			loader := engine.NewBatchLoader(st, engineConfig(cfg))
			result, err := loader.Process(ctx, raw)
			printResult(result)
			return err
		},
	}
	cmd.Flags().StringVar(&dataPath, "data-path", "", "dot path to the record array inside a JSON file")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "CSV column delimiter")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "CSV file has no header row")
	return cmd
}

func printResult(r *engine.LoadResult) {
	if r == nil {
		return
	}
	fmt.Printf("inserted:           %d\n", r.Inserted)
	fmt.Printf("duplicates skipped: %d\n", r.DuplicatesSkipped)
	fmt.Printf("schema version:     %d\n", r.SchemaVersion)
	fmt.Printf("fields:             %d\n", r.FieldCount)
	fmt.Printf("changes:            %d\n", len(r.Changes))
	for _, ev := range r.Changes {
		fmt.Printf("  %s: %s %v -> %v\n", ev.Identifier.Key(), ev.Field, ev.OldValue, ev.NewValue)
	}
	if len(r.Chunks) > 1 {
		for _, c := range r.Chunks {
			fmt.Printf("chunk %d: %d records, %d inserted, %d duplicates\n",
				c.Index, c.Records, c.Inserted, c.Duplicates)
		}
	}
}

// ── jobs ───────────────────────────────────────────────────

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage load jobs",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsAddCmd(), newJobsRmCmd(), newJobsRunCmd(), newJobsRunsCmd())
	return cmd
}

func openService(ctx context.Context, cfg config.Config) (*service.LoaderService, *storage.DB, *store.Mongo, error) {
	db, err := storage.New(cfg.JobsDBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := connectStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	svc := service.NewLoaderService(storage.NewJobStore(db), st, engineConfig(cfg), service.LogEmitter{})
	return svc, db, st, nil
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured load jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := storage.New(cfg.JobsDBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			jobs, err := storage.NewJobStore(db).ListJobs()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs configured")
				return nil
			}
			for _, j := range jobs {
				status := j.LastStatus
				if status == "" {
					status = "never run"
				}
				fmt.Printf("%s  %-20s %-10s trigger=%s %s  [%s]\n",
					j.ID, j.Name, j.SourceType, j.TriggerType, j.TriggerConfig, status)
			}
			return nil
		},
	}
}

func newJobsAddCmd() *cobra.Command {
	var name, sourceType, sourceCfgJSON, triggerType, triggerCfg string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a load job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			svc, db, st, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			defer st.Close()

			var srcCfg map[string]any
			if err := json.Unmarshal([]byte(sourceCfgJSON), &srcCfg); err != nil {
				return fmt.Errorf("parse --source-config: %w", err)
			}
			job, err := svc.CreateJob(cmd.Context(), service.CreateJobInput{
				Name:          name,
				SourceType:    sourceType,
				SourceConfig:  srcCfg,
				TriggerType:   triggerType,
				TriggerConfig: triggerCfg,
				Enabled:       true,
			})
			if err != nil {
				return err
			}
			fmt.Println("created job", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&sourceType, "source", "json_file", "source type")
	cmd.Flags().StringVar(&sourceCfgJSON, "source-config", "{}", "source config as JSON")
	cmd.Flags().StringVar(&triggerType, "trigger", "manual", "trigger type: manual | schedule | file_watch")
	cmd.Flags().StringVar(&triggerCfg, "trigger-config", "", "cron expression or watch path")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newJobsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <job-id>",
		Short: "Delete a load job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := storage.New(cfg.JobsDBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.NewJobStore(db).DeleteJob(args[0])
		},
	}
}

func newJobsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a load job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			svc, db, st, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			defer st.Close()

			result, err := svc.RunJob(cmd.Context(), args[0])
			printResult(result)
			return err
		},
	}
}

func newJobsRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <job-id>",
		Short: "Show run history for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := storage.New(cfg.JobsDBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := storage.NewJobStore(db).ListRuns(args[0], 50)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%s  %-7s inserted=%d duplicates=%d changes=%d schema=v%d %s\n",
					r.StartedAt.Format("2006-01-02 15:04:05"), r.Status,
					r.Inserted, r.Duplicates, r.Changes, r.SchemaVersion, r.Error)
			}
			return nil
		},
	}
}

// ── watch ──────────────────────────────────────────────────

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run scheduled and file-watch jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			svc, db, st, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			defer st.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc.RestartWatchers()
			log.Println("watch: running, press Ctrl-C to stop")
			<-ctx.Done()

			svc.Stop()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			svc.WaitRunning(shutdownCtx)
			return nil
		},
	}
}

// ── versions / changes / sources ───────────────────────────

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List stored schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			st, err := connectStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			versions, err := st.FindSchemaVersions(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Printf("v%d  %d fields, %d records, created %s, last used %s\n",
					v.Version, v.Stats.TotalFields, v.Stats.TotalRecords,
					v.CreatedAt.Format("2006-01-02 15:04:05"),
					v.LastUsed.Format("2006-01-02 15:04:05"))
				for _, f := range v.Schema.Fields {
					fmt.Printf("    %-20s %s\n", f.Name, f.Type)
				}
			}
			return nil
		},
	}
}

func newChangesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show recent change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			st, err := connectStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.RecentChangeEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Printf("%s  %s: %s %v -> %v\n",
					ev.Timestamp.Format("2006-01-02 15:04:05"),
					ev.Identifier.Key(), ev.Field, ev.OldValue, ev.NewValue)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available raw-record sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, spec := range ingest.ListSources() {
				fmt.Printf("%s — %s\n", spec.Type, spec.Label)
				for _, f := range spec.ConfigFields {
					req := ""
					if f.Required {
						req = " (required)"
					}
					fmt.Printf("    %-12s%s  %s\n", f.Key, req, f.Help)
				}
			}
			return nil
		},
	}
}
