package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/catalog"
	"stitchsentry/internal/config"
	"stitchsentry/internal/events"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/rules"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
)

// Manager coordinates run processing using the registered stage handlers.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	plans     *catalog.PlanCatalog
	presets   *catalog.PresetCatalog
	publisher events.Publisher
	logger    *slog.Logger

	handlers map[store.Stage]stage.Handler

	heartbeat    *HeartbeatMonitor
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a pipeline manager with the default stage handlers.
func NewManager(cfg *config.Config, st *store.Store, plans *catalog.PlanCatalog, presets *catalog.PresetCatalog, gateway parser.Gateway, publisher events.Publisher, logger *slog.Logger) *Manager {
	credits := billing.NewCreditsService(st, plans, logger)
	engine := rules.NewEngine(presets)

	m := &Manager{
		cfg:          cfg,
		store:        st,
		plans:        plans,
		presets:      presets,
		publisher:    publisher,
		logger:       logger,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			st,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
	m.handlers = map[store.Stage]stage.Handler{
		store.StageIngest:  NewIngestStage(st, logger),
		store.StageParse:   NewParseStage(gateway, logger),
		store.StageRender:  NewRenderStage(st, gateway, cfg.Paths.ArtifactsDir, logger),
		store.StageRuleQA:  NewRuleQAStage(st, engine, logger),
		store.StageSummary: NewSummaryStage(credits, logger),
		store.StageExport:  NewExportStage(st, credits, cfg.Paths.ArtifactsDir, logger),
	}
	return m
}

// SetHandler replaces the handler for a stage. Used by tests to inject
// failures or observe execution.
func (m *Manager) SetHandler(s store.Stage, handler stage.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[s] = handler
}

func (m *Manager) handlerFor(s store.Stage) stage.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[s]
}

// Health reports the readiness of every stage handler in execution order.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	checks := make([]stage.Health, 0, len(store.Stages()))
	for _, s := range store.Stages() {
		handler := m.handlerFor(s)
		if handler == nil {
			checks = append(checks, stage.Unhealthy(string(s), "no handler registered"))
			continue
		}
		checks = append(checks, handler.HealthCheck(ctx))
	}
	return checks
}
