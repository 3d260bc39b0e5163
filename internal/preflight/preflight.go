package preflight

import (
	"batchflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the workstation-level checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckParentAccess("Registry directory", cfg.Paths.RegistryFile),
		CheckParentAccess("History directory", cfg.Paths.HistoryDB),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckParentAccess("Log directory", cfg.Paths.LogDir+"/x"))
	}

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}
