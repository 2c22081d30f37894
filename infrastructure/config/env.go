// Package config decodes the daemon's environment-variable surface.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// DaemonEnv collects threatwatchd's tunables behind struct tags instead
// of scattered os.Getenv calls. Fields left at their zero value fall
// back to the caller's own default.
type DaemonEnv struct {
	SourcesPath        string `env:"SOURCES_PATH"`
	OpsAddr            string `env:"OPS_ADDR"`
	OpsDebugToken      string `env:"OPS_DEBUG_TOKEN"`
	StoreEndpoint      string `env:"STORE_ENDPOINT"`
	StoreCredentialRef string `env:"STORE_CREDENTIAL_REF"`
	GraphEndpoint      string `env:"GRAPH_ENDPOINT"`
	VectorEndpoint     string `env:"VECTOR_ENDPOINT"`
	GlobalConcurrency  int    `env:"GLOBAL_CONCURRENCY"`
	PerHostConcurrency int    `env:"PER_HOST_CONCURRENCY"`
	DecayPeriodSeconds int    `env:"DECAY_PERIOD_SECONDS"`
}

// LoadDaemonEnv loads a .env file when present (local development only; a
// missing file is not an error) and decodes the process environment into a
// DaemonEnv.
func LoadDaemonEnv() (DaemonEnv, error) {
	_ = godotenv.Load()
	var env DaemonEnv
	if err := envdecode.Decode(&env); err != nil {
		// envdecode errors when none of the tagged fields are present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return DaemonEnv{}, fmt.Errorf("decode daemon env: %w", err)
		}
	}
	return env, nil
}
