package engine

import (
	"log/slog"
	"runtime"
)

// ============================================================================
// ENGINE OPTIONS — Functional options for Fetcher, Charter and Linker
// ============================================================================

// Option configures engine components via functional options pattern.
type Option func(*config)

type config struct {
	Logger  *slog.Logger
	Workers int // bucket aggregation concurrency
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithWorkers bounds how many chart buckets are aggregated at once.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// applyOptions creates a config from functional options.
func applyOptions(opts []Option) *config {
	cfg := &config{
		Logger:  slog.Default(),
		Workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
