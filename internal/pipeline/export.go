package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/catalog"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/services"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// qaReport is the exported report document.
type qaReport struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	RunID          int64           `json:"qa_run_id"`
	OrganizationID string          `json:"organization_id"`
	Preset         string          `json:"preset"`
	Score          int             `json:"score"`
	RiskLevel      string          `json:"risk_level"`
	Findings       []reportFinding `json:"findings"`
}

type reportFinding struct {
	RuleKey  string          `json:"rule_key"`
	Severity string          `json:"severity"`
	Title    string          `json:"title"`
	Detail   string          `json:"detail,omitempty"`
	Evidence json.RawMessage `json:"evidence,omitempty"`
}

// ExportStage writes the run report for plans that include exports. The
// debit uses an idempotency key tied to the run, so a replayed stage never
// charges twice.
type ExportStage struct {
	store        *store.Store
	credits      *billing.CreditsService
	artifactsDir string
	logger       *slog.Logger
}

// NewExportStage builds the export handler.
func NewExportStage(st *store.Store, credits *billing.CreditsService, artifactsDir string, logger *slog.Logger) *ExportStage {
	return &ExportStage{
		store:        st,
		credits:      credits,
		artifactsDir: artifactsDir,
		logger:       logging.NewComponentLogger(logger, "export"),
	}
}

// Prepare verifies the evaluation exists.
func (s *ExportStage) Prepare(ctx context.Context, state *stage.State) error {
	if state.Evaluation == nil {
		return services.Wrap(services.ErrValidation, "export", "prepare", "evaluation missing; rule stage must run first", nil)
	}
	return nil
}

// Execute writes the report artifact. Plans without the export capability
// skip the work; progress still advances.
func (s *ExportStage) Execute(ctx context.Context, state *stage.State) error {
	if !state.Plan.Limits.PDFExport {
		s.logger.InfoContext(ctx, "export not included in plan, skipping",
			logging.String("plan", state.Plan.Slug))
		return nil
	}

	key := fmt.Sprintf("run:%d:export", state.Run.ID)
	if _, err := s.credits.DebitForAction(ctx, state.Run.OrganizationID, catalog.ActionPDFExport, key); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			s.logger.WarnContext(ctx, "not enough credits for export, skipping")
			return nil
		}
		return err
	}

	payload, err := json.MarshalIndent(buildReport(state), "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	dir := runArtifactDir(s.artifactsDir, state.Run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	path := filepath.Join(dir, "report.json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if _, err := s.store.ReplaceArtifact(ctx, &store.Artifact{
		RunID:    state.Run.ID,
		Kind:     ArtifactReport,
		Disk:     "local",
		Path:     path,
		MetaJSON: fmt.Sprintf(`{"bytes":%d}`, len(payload)),
	}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "report exported", logging.Int("bytes", len(payload)))
	return nil
}

// HealthCheck verifies the artifact directory can be created.
func (s *ExportStage) HealthCheck(ctx context.Context) stage.Health {
	if s.artifactsDir == "" {
		return stage.Unhealthy("export", "artifacts directory not configured")
	}
	if err := os.MkdirAll(s.artifactsDir, 0o755); err != nil {
		return stage.Unhealthy("export", err.Error())
	}
	return stage.Healthy("export")
}

func buildReport(state *stage.State) qaReport {
	eval := state.Evaluation
	report := qaReport{
		GeneratedAt:    time.Now().UTC(),
		RunID:          state.Run.ID,
		OrganizationID: state.Run.OrganizationID,
		Preset:         state.Run.PresetSlug,
		Score:          eval.Score,
		RiskLevel:      eval.RiskLevel,
		Findings:       make([]reportFinding, 0, len(eval.Findings)),
	}
	for _, finding := range eval.Findings {
		entry := reportFinding{
			RuleKey:  finding.RuleKey,
			Severity: finding.Severity,
			Title:    finding.Title,
			Detail:   finding.Detail,
		}
		if finding.EvidenceJSON != "" {
			entry.Evidence = json.RawMessage(finding.EvidenceJSON)
		}
		report.Findings = append(report.Findings, entry)
	}
	return report
}
