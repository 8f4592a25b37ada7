// Package config loads loader configuration from environment
// variables, with .env support for local development. Defaults mirror
// the original loader's settings so an unconfigured process points at
// a local MongoDB.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all process configuration.
type Config struct {
	// MongoDB document store.
	MongoURI          string // INFLOW_MONGO_URI
	MongoDatabase     string // INFLOW_MONGO_DB
	RecordsCollection string // INFLOW_RECORDS_COLLECTION
	SchemaCollection  string // INFLOW_SCHEMA_COLLECTION
	ChangesCollection string // INFLOW_CHANGES_COLLECTION

	// Engine tuning.
	BatchSize          int      // INFLOW_BATCH_SIZE
	SampleValueCap     int      // INFLOW_SAMPLE_CAP
	MonitoredFields    []string // INFLOW_MONITORED_FIELDS (comma-separated)
	IdentifierPriority []string // INFLOW_IDENTIFIER_FIELDS (comma-separated)

	// Local job registry.
	JobsDBPath string // INFLOW_JOBS_DB
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win.
func Load() Config {
	godotenv.Load()

	return Config{
		MongoURI:           getString("INFLOW_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getString("INFLOW_MONGO_DB", "etl_db"),
		RecordsCollection:  getString("INFLOW_RECORDS_COLLECTION", "records"),
		SchemaCollection:   getString("INFLOW_SCHEMA_COLLECTION", "schema_versions"),
		ChangesCollection:  getString("INFLOW_CHANGES_COLLECTION", "change_events"),
		BatchSize:          getInt("INFLOW_BATCH_SIZE", 500),
		SampleValueCap:     getInt("INFLOW_SAMPLE_CAP", 5),
		MonitoredFields:    getList("INFLOW_MONITORED_FIELDS", nil),
		IdentifierPriority: getList("INFLOW_IDENTIFIER_FIELDS", nil),
		JobsDBPath:         getString("INFLOW_JOBS_DB", "inflow_jobs.db"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
