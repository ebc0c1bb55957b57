package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stitchsentry/internal/logging"
	"stitchsentry/internal/services"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// supportedFormats are the embroidery formats the parser service understands.
var supportedFormats = map[string]struct{}{
	"dst": {},
	"pes": {},
	"jef": {},
	"exp": {},
	"vp3": {},
	"xxx": {},
	"hus": {},
}

// IngestStage validates the uploaded design file before any external work
// happens.
type IngestStage struct {
	store  *store.Store
	logger *slog.Logger
}

// NewIngestStage builds the ingest handler.
func NewIngestStage(st *store.Store, logger *slog.Logger) *IngestStage {
	return &IngestStage{store: st, logger: logging.NewComponentLogger(logger, "ingest")}
}

// Prepare verifies the run references a design file.
func (s *IngestStage) Prepare(ctx context.Context, state *stage.State) error {
	if state.File == nil {
		return services.Wrap(services.ErrValidation, "ingest", "prepare", "run has no design file", nil)
	}
	return nil
}

// Execute validates the file record and flags duplicate uploads.
func (s *IngestStage) Execute(ctx context.Context, state *stage.State) error {
	file := state.File
	if file.SizeBytes <= 0 {
		return services.Wrap(services.ErrValidation, "ingest", "validate", "design file is empty", nil)
	}
	if _, ok := supportedFormats[file.Format]; !ok {
		return services.Wrap(services.ErrValidation, "ingest", "validate",
			fmt.Sprintf("unsupported format %q", file.Format), nil)
	}
	// Remote disks are verified by the parser service; only locally managed
	// absolute paths can be checked here.
	if file.Disk == "local" && filepath.IsAbs(file.Path) {
		info, err := os.Stat(file.Path)
		if err != nil {
			return services.Wrap(services.ErrValidation, "ingest", "validate", "design file missing on disk", err)
		}
		if info.Size() != file.SizeBytes {
			s.logger.WarnContext(ctx, "size on disk differs from upload record",
				logging.Int64("recorded_bytes", file.SizeBytes),
				logging.Int64("on_disk_bytes", info.Size()))
		}
	}
	if file.ChecksumSHA256 != "" {
		dup, err := s.store.FindDesignFileByChecksum(ctx, file.OrganizationID, file.ChecksumSHA256)
		if err == nil && dup != nil && dup.ID != file.ID {
			s.logger.InfoContext(ctx, "duplicate upload detected",
				logging.Int64("other_file_id", dup.ID))
		}
	}
	return nil
}

// HealthCheck reports readiness.
func (s *IngestStage) HealthCheck(ctx context.Context) stage.Health {
	if s.store == nil {
		return stage.Unhealthy("ingest", "store not configured")
	}
	return stage.Healthy("ingest")
}
