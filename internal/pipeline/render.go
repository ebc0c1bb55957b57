package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stitchsentry/internal/logging"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// Artifact kinds produced by the pipeline.
const (
	ArtifactPreview = "preview"
	ArtifactDensity = "density_map"
	ArtifactJumps   = "jumps_map"
	ArtifactReport  = "report"
)

// RenderStage fetches the preview, density map, and jump map renders and
// stores them as run artifacts.
type RenderStage struct {
	store        *store.Store
	gateway      parser.Gateway
	artifactsDir string
	logger       *slog.Logger
}

// NewRenderStage builds the render handler.
func NewRenderStage(st *store.Store, gateway parser.Gateway, artifactsDir string, logger *slog.Logger) *RenderStage {
	return &RenderStage{
		store:        st,
		gateway:      gateway,
		artifactsDir: artifactsDir,
		logger:       logging.NewComponentLogger(logger, "render"),
	}
}

// Prepare is a no-op.
func (s *RenderStage) Prepare(ctx context.Context, state *stage.State) error {
	return nil
}

// Execute writes the three renders to the run's artifact directory. Replaying
// the stage overwrites files and replaces artifact rows instead of
// accumulating them.
func (s *RenderStage) Execute(ctx context.Context, state *stage.State) error {
	renders := []struct {
		kind   string
		file   string
		render func(context.Context, string, string) ([]byte, error)
	}{
		{ArtifactPreview, "preview.png", s.gateway.RenderPreview},
		{ArtifactDensity, "density.png", s.gateway.RenderDensity},
		{ArtifactJumps, "jumps.png", s.gateway.RenderJumps},
	}

	dir := runArtifactDir(s.artifactsDir, state.Run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	for _, r := range renders {
		data, err := r.render(ctx, state.File.Disk, state.File.Path)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, r.file)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s render: %w", r.kind, err)
		}
		if _, err := s.store.ReplaceArtifact(ctx, &store.Artifact{
			RunID:    state.Run.ID,
			Kind:     r.kind,
			Disk:     "local",
			Path:     path,
			MetaJSON: fmt.Sprintf(`{"bytes":%d}`, len(data)),
		}); err != nil {
			return err
		}
		s.logger.DebugContext(ctx, "render stored",
			logging.String("kind", r.kind),
			logging.Int("bytes", len(data)))
	}
	return nil
}

// HealthCheck verifies the artifact directory can be created.
func (s *RenderStage) HealthCheck(ctx context.Context) stage.Health {
	if s.artifactsDir == "" {
		return stage.Unhealthy("render", "artifacts directory not configured")
	}
	if err := os.MkdirAll(s.artifactsDir, 0o755); err != nil {
		return stage.Unhealthy("render", err.Error())
	}
	return stage.Healthy("render")
}

func runArtifactDir(base string, runID int64) string {
	return filepath.Join(base, fmt.Sprintf("run-%d", runID))
}
