package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"stitchsentry/internal/logging"
	"stitchsentry/internal/services"
	"stitchsentry/internal/store"
)

// handleRunFailure marks the run failed with a stable error code and a
// support id, persists it, and publishes the terminal event.
func (m *Manager) handleRunFailure(ctx context.Context, logger *slog.Logger, run *store.Run, stageErr error) {
	code := services.ErrorCode(stageErr)
	supportID := uuid.NewString()
	message := failureMessage(stageErr)
	run.SetFailed(code, message, supportID)

	logger.Error("run failed",
		logging.String(logging.FieldEventType, "run_failure"),
		logging.String(logging.FieldErrorCode, code),
		logging.String(logging.FieldSupportID, supportID),
		logging.Error(stageErr))

	if err := m.store.UpdateRun(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not persist run failure")
		} else {
			logger.Error("failed to persist run failure", logging.Error(err))
		}
		return
	}

	m.publishProgress(ctx, run, message, map[string]any{
		"error_code": code,
		"support_id": supportID,
	})
}

func failureMessage(err error) string {
	if err == nil {
		return "run failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "run failed"
	}
	return message
}
