package pipeline

import (
	"context"
	"log/slog"

	"stitchsentry/internal/logging"
	"stitchsentry/internal/rules"
	"stitchsentry/internal/services"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// RuleQAStage evaluates the rule set against the parsed metrics and persists
// the findings and score.
type RuleQAStage struct {
	store  *store.Store
	engine *rules.Engine
	logger *slog.Logger
}

// NewRuleQAStage builds the rule evaluation handler.
func NewRuleQAStage(st *store.Store, engine *rules.Engine, logger *slog.Logger) *RuleQAStage {
	return &RuleQAStage{store: st, engine: engine, logger: logging.NewComponentLogger(logger, "rule_qa")}
}

// Prepare verifies the parse stage produced metrics.
func (s *RuleQAStage) Prepare(ctx context.Context, state *stage.State) error {
	if state.Metrics == nil {
		return services.Wrap(services.ErrValidation, "rule_qa", "prepare", "metrics missing; parse stage must run first", nil)
	}
	return nil
}

// Execute runs the engine and replaces any findings from an earlier attempt.
func (s *RuleQAStage) Execute(ctx context.Context, state *stage.State) error {
	eval := s.engine.Evaluate(state.Preset, *state.Metrics)
	if err := s.store.ReplaceFindings(ctx, state.Run.ID, eval.Findings); err != nil {
		return err
	}
	state.Evaluation = &eval
	score := eval.Score
	state.Run.Score = &score
	state.Run.RiskLevel = eval.RiskLevel

	s.logger.InfoContext(ctx, "rules evaluated",
		logging.Int("score", eval.Score),
		logging.String("risk_level", eval.RiskLevel),
		logging.Int("failures", eval.Failures),
		logging.Int("warnings", eval.Warnings))
	return nil
}

// HealthCheck reports readiness.
func (s *RuleQAStage) HealthCheck(ctx context.Context) stage.Health {
	if s.engine == nil {
		return stage.Unhealthy("rule_qa", "rule engine not configured")
	}
	return stage.Healthy("rule_qa")
}
