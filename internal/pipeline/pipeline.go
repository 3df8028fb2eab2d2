// Package pipeline holds the static stage-routing table. Routing is a pure
// function of the current stage and the submission's stage flags, so it can
// be tested apart from dispatch.
package pipeline

import (
	"media-pipeline-orchestrator/internal/models"
)

// order is the full pipeline in execution order. Optional stages are skipped
// when the submission's flags disable them.
var order = []models.Stage{
	models.StageExtract,
	models.StageAnalyze,
	models.StageIntelligence,
}

// First returns the first enabled stage for a submission. ok is false when
// every stage is disabled, which callers treat as invalid options.
func First(flags models.StageFlags) (models.Stage, bool) {
	for _, s := range order {
		if flags.Enabled(s) {
			return s, true
		}
	}
	return models.StageComplete, false
}

// Next returns the stage that follows current for the given flags, or
// StageComplete when the pipeline is done. An unknown current stage also
// resolves to StageComplete so a malformed job can never loop.
func Next(current models.Stage, flags models.StageFlags) models.Stage {
	for i, s := range order {
		if s != current {
			continue
		}
		for _, later := range order[i+1:] {
			if flags.Enabled(later) {
				return later
			}
		}
		return models.StageComplete
	}
	return models.StageComplete
}

// Stages returns the pipeline order for inspection.
func Stages() []models.Stage {
	out := make([]models.Stage, len(order))
	copy(out, order)
	return out
}
