package stage

import (
	"stitchsentry/internal/catalog"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/rules"
	"stitchsentry/internal/store"
)

// State carries one run through the pipeline. The manager builds it when a
// run is claimed; stages read what earlier stages produced and record their
// own output for the stages that follow.
type State struct {
	Run    *store.Run
	File   *store.DesignFile
	Plan   catalog.Plan
	Preset catalog.Preset

	// Metrics is set by the parse stage.
	Metrics *parser.Metrics
	// Evaluation is set by the rule evaluation stage.
	Evaluation *rules.Evaluation
}
