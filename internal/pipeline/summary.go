package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/catalog"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/services"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// runSummary is the JSON document persisted on the run after evaluation.
type runSummary struct {
	Score      int                `json:"score"`
	RiskLevel  string             `json:"risk_level"`
	Failures   int                `json:"failures"`
	Warnings   int                `json:"warnings"`
	Passes     int                `json:"passes"`
	Highlights []summaryHighlight `json:"highlights,omitempty"`
	Metrics    summaryMetrics     `json:"metrics"`
}

type summaryHighlight struct {
	RuleKey  string `json:"rule_key"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
}

type summaryMetrics struct {
	WidthMM      float64 `json:"width_mm"`
	HeightMM     float64 `json:"height_mm"`
	StitchCount  int     `json:"stitch_count"`
	ColorChanges int     `json:"color_changes"`
	JumpCount    int     `json:"jump_count"`
}

// SummaryStage builds the run summary for plans that include it. The stage
// debits one summary credit with an idempotency key tied to the run, so a
// replayed stage never charges twice.
type SummaryStage struct {
	credits *billing.CreditsService
	logger  *slog.Logger
}

// NewSummaryStage builds the summary handler.
func NewSummaryStage(credits *billing.CreditsService, logger *slog.Logger) *SummaryStage {
	return &SummaryStage{credits: credits, logger: logging.NewComponentLogger(logger, "summary")}
}

// Prepare verifies the evaluation exists.
func (s *SummaryStage) Prepare(ctx context.Context, state *stage.State) error {
	if state.Evaluation == nil {
		return services.Wrap(services.ErrValidation, "summary", "prepare", "evaluation missing; rule stage must run first", nil)
	}
	return nil
}

// Execute writes the summary document onto the run. Plans without the summary
// capability skip the work; progress still advances.
func (s *SummaryStage) Execute(ctx context.Context, state *stage.State) error {
	if !state.Plan.Limits.AISummary {
		s.logger.InfoContext(ctx, "summary not included in plan, skipping",
			logging.String("plan", state.Plan.Slug))
		return nil
	}

	key := fmt.Sprintf("run:%d:summary", state.Run.ID)
	if _, err := s.credits.DebitForAction(ctx, state.Run.OrganizationID, catalog.ActionAISummary, key); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			s.logger.WarnContext(ctx, "not enough credits for summary, skipping")
			return nil
		}
		return err
	}

	payload, err := json.Marshal(buildSummary(state))
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	state.Run.SummaryJSON = string(payload)
	return nil
}

// HealthCheck reports readiness.
func (s *SummaryStage) HealthCheck(ctx context.Context) stage.Health {
	if s.credits == nil {
		return stage.Unhealthy("summary", "credits service not configured")
	}
	return stage.Healthy("summary")
}

func buildSummary(state *stage.State) runSummary {
	eval := state.Evaluation
	summary := runSummary{
		Score:     eval.Score,
		RiskLevel: eval.RiskLevel,
		Failures:  eval.Failures,
		Warnings:  eval.Warnings,
	}
	for _, finding := range eval.Findings {
		if finding.Severity == store.SeverityPass {
			summary.Passes++
			continue
		}
		if len(summary.Highlights) < 3 {
			summary.Highlights = append(summary.Highlights, summaryHighlight{
				RuleKey:  finding.RuleKey,
				Severity: finding.Severity,
				Title:    finding.Title,
			})
		}
	}
	if state.Metrics != nil {
		summary.Metrics = summaryMetrics{
			WidthMM:      state.Metrics.WidthMM,
			HeightMM:     state.Metrics.HeightMM,
			StitchCount:  state.Metrics.StitchCount,
			ColorChanges: state.Metrics.ColorChanges,
			JumpCount:    state.Metrics.JumpCount,
		}
	}
	return summary
}
