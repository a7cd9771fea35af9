package preflight

import (
	"context"

	"folio/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Modules.BaseURL == "" {
		results = append(results, CheckDirectoryAccess("Modules directory", cfg.Paths.ModulesDir))
	} else {
		results = append(results, CheckEndpoint(ctx, "Module source", cfg.Modules.BaseURL))
	}
	results = append(results, CheckUpstream(ctx, cfg))
	if len(cfg.Worker.Command) > 0 {
		results = append(results, CheckWorkerCommand(cfg))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
