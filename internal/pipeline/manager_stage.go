package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/events"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/services"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

var stageMessages = map[store.Stage]string{
	store.StageIngest:  "Validated design file",
	store.StageParse:   "Parsed design metrics",
	store.StageRender:  "Rendered previews",
	store.StageRuleQA:  "Evaluated QA rules",
	store.StageSummary: "Built run summary",
	store.StageExport:  "Exported report",
}

// processRun executes every stage for a claimed run. Runs always replay from
// the first stage: outputs held in memory (parsed metrics, the evaluation)
// cannot be recovered mid-run after a reclaim, and every stage is idempotent.
// Stages before the persisted stage label replay silently, without persisting
// state or publishing events, so observers never see the label move backward.
func (m *Manager) processRun(ctx context.Context, workerLogger *slog.Logger, run *store.Run) error {
	runCtx := services.WithRequestID(
		services.WithOrgID(services.WithRunID(ctx, run.ID), run.OrganizationID),
		uuid.NewString())
	logger := logging.WithContext(runCtx, workerLogger)

	state, err := m.buildState(runCtx, run)
	if err != nil {
		m.handleRunFailure(runCtx, logger, run, err)
		return err
	}

	m.publishProgress(runCtx, run, "Run started", nil)

	resume := run.Stage
	for _, current := range store.Stages() {
		stageCtx := services.WithStage(runCtx, string(current))
		stageLogger := logging.WithContext(stageCtx, workerLogger)
		if err := m.executeStage(stageCtx, stageLogger, current, state, current.Before(resume)); err != nil {
			if errors.Is(err, context.Canceled) {
				stageLogger.Debug("stage interrupted by shutdown")
				return err
			}
			m.handleRunFailure(stageCtx, stageLogger, run, err)
			return err
		}
	}
	return nil
}

// executeStage runs one stage. Replayed stages rebuild in-memory state only:
// the persisted stage label and progress stay where the reclaim left them.
func (m *Manager) executeStage(ctx context.Context, logger *slog.Logger, current store.Stage, state *stage.State, replay bool) error {
	run := state.Run
	handler := m.handlerFor(current)
	if handler == nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", string(current), "no handler registered", nil)
	}

	stageStart := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	if !replay {
		run.Stage = current
		if err := m.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("persist stage transition: %w", err)
		}
	}

	if err := handler.Prepare(ctx, state); err != nil {
		return err
	}
	if err := m.executeWithHeartbeat(ctx, handler, state); err != nil {
		return err
	}

	if replay {
		logger.Info("stage replayed",
			logging.String(logging.FieldEventType, "stage_replay"),
			logging.Duration("stage_duration", time.Since(stageStart)))
		return nil
	}

	run.SetProgress(current, stageMessages[current], current.Progress())
	var meta map[string]any
	if current == store.StageExport {
		run.Status = store.StatusCompleted
		now := time.Now().UTC()
		run.FinishedAt = &now
		run.LastHeartbeat = nil
		run.ProgressMessage = "QA run completed"
		if state.Evaluation != nil {
			meta = map[string]any{
				"score":      state.Evaluation.Score,
				"risk_level": state.Evaluation.RiskLevel,
			}
		}
	}
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}
	m.publishProgress(ctx, run, run.ProgressMessage, meta)

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("percent", run.ProgressPercent),
		logging.Duration("stage_duration", time.Since(stageStart)))
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, state *stage.State) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, state.Run.ID)

	execErr := handler.Execute(ctx, state)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) buildState(ctx context.Context, run *store.Run) (*stage.State, error) {
	file, err := m.store.GetDesignFile(ctx, run.DesignFileID)
	if err != nil {
		return nil, fmt.Errorf("load design file: %w", err)
	}
	if file == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "load design file", "design file missing for run", nil)
	}
	preset, ok := m.presets.Get(run.PresetSlug)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "load preset", fmt.Sprintf("unknown preset %q", run.PresetSlug), nil)
	}
	plan, ok := m.plans.Get(run.PlanSlug)
	if !ok {
		// The plan catalog may have changed since the run was enqueued.
		plan, _ = m.plans.Get(catalog.DefaultPlanSlug)
	}
	return &stage.State{Run: run, File: file, Plan: plan, Preset: preset}, nil
}

// publishProgress emits an event for state that has already been persisted.
func (m *Manager) publishProgress(ctx context.Context, run *store.Run, message string, meta map[string]any) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, events.Event{
		Type:           events.TypeRunProgress,
		Timestamp:      time.Now().UTC(),
		OrganizationID: run.OrganizationID,
		ActorID:        run.ActorID,
		RunID:          run.ID,
		Status:         string(run.Status),
		Stage:          string(run.Stage),
		Percent:        run.ProgressPercent,
		Message:        message,
		Meta:           meta,
	})
}
