package pipeline

import (
	"context"
	"log/slog"

	"stitchsentry/internal/logging"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/stage"
)

// ParseStage asks the parser service for design metrics.
type ParseStage struct {
	gateway parser.Gateway
	logger  *slog.Logger
}

// NewParseStage builds the parse handler.
func NewParseStage(gateway parser.Gateway, logger *slog.Logger) *ParseStage {
	return &ParseStage{gateway: gateway, logger: logging.NewComponentLogger(logger, "parse")}
}

// Prepare is a no-op; ingest already validated the file.
func (s *ParseStage) Prepare(ctx context.Context, state *stage.State) error {
	return nil
}

// Execute fetches metrics and records them on the state for later stages.
func (s *ParseStage) Execute(ctx context.Context, state *stage.State) error {
	metrics, err := s.gateway.Parse(ctx, state.File.Disk, state.File.Path)
	if err != nil {
		return err
	}
	state.Metrics = &metrics
	s.logger.InfoContext(ctx, "design parsed",
		logging.Float64("width_mm", metrics.WidthMM),
		logging.Float64("height_mm", metrics.HeightMM),
		logging.Int("stitch_count", metrics.StitchCount),
		logging.Int("jump_count", metrics.JumpCount),
		logging.Int("color_changes", metrics.ColorChanges))
	return nil
}

// HealthCheck reports readiness.
func (s *ParseStage) HealthCheck(ctx context.Context) stage.Health {
	if s.gateway == nil {
		return stage.Unhealthy("parse", "parser gateway not configured")
	}
	return stage.Healthy("parse")
}
