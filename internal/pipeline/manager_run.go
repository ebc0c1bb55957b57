package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stitchsentry/internal/logging"
)

// Start begins background processing with the configured worker count.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	workers := m.cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "pipeline").With(logging.Int("worker", worker))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Only the first worker reclaims; the reclaim touches every stale
		// run, so running it per worker just multiplies contention.
		if worker == 0 {
			if err := m.heartbeat.ReclaimStale(ctx, logger); err != nil {
				logger.Warn("reclaim stale runs failed; stuck runs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
			}
		}

		run, err := m.store.ClaimNextQueued(ctx)
		if err != nil {
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if run == nil {
			m.waitForRunOrShutdown(ctx)
			continue
		}

		if err := m.processRun(ctx, logger, run); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	logger.Error("failed to claim next run",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForRunOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.pollInterval):
	}
}
