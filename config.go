package gcheap

import (
	"os"
	"runtime"
	"strconv"

	"go.uber.org/zap"
)

// Config holds the knobs spec §6/SPEC_FULL.md's environment surface
// describes. Three scalars: no retrieved example in this pool pulls in
// a struct-tag config library whose shape fits three env vars better
// than os.Getenv+strconv (see DESIGN.md's standard-library
// justification), so this stays plain stdlib.
type Config struct {
	// GCThreads clamps the tracer worker pool. 0 means "use the
	// spec §4.6 default, min(1+ncpus/2, 8)".
	GCThreads int
	// PollIntervalMS overrides the ~10ms heuristic-trigger poll cadence.
	PollIntervalMS int
	// LogEncoding records "json" (default) or "console". NewGC does not
	// read it: it takes an already-built logger, and nothing in this
	// package builds one from this field.
	LogEncoding string
}

// LoadConfig reads GLAS_GC_THREADS, GLAS_GC_POLL_MS, and GLAS_GC_LOG.
// Invalid values are logged and ignored, matching spec §6's exact
// wording for GLAS_GC_THREADS ("Invalid values log and are ignored").
func LoadConfig(log *zap.Logger) Config {
	cfg := Config{PollIntervalMS: 10, LogEncoding: "json"}

	if raw, ok := os.LookupEnv("GLAS_GC_THREADS"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			log.Warn("ignoring invalid GLAS_GC_THREADS", zap.String("value", raw))
		} else {
			cfg.GCThreads = n
		}
	}
	if raw, ok := os.LookupEnv("GLAS_GC_POLL_MS"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			log.Warn("ignoring invalid GLAS_GC_POLL_MS", zap.String("value", raw))
		} else {
			cfg.PollIntervalMS = n
		}
	}
	if raw, ok := os.LookupEnv("GLAS_GC_LOG"); ok {
		if raw == "json" || raw == "console" {
			cfg.LogEncoding = raw
		} else {
			log.Warn("ignoring invalid GLAS_GC_LOG", zap.String("value", raw))
		}
	}
	return cfg
}

// workerCount implements spec §4.6's "min(1 + ncpus/2, 8), overridable
// by an environment variable". Values above ncpus are clamped to ncpus.
func workerCount(cfg Config) int {
	n := 1 + runtime.NumCPU()/2
	if n > 8 {
		n = 8
	}
	if cfg.GCThreads > 0 {
		n = cfg.GCThreads
		if n > runtime.NumCPU() {
			n = runtime.NumCPU()
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}
