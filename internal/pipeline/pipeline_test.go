package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/events"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/services"
	"stitchsentry/internal/stage"
	"stitchsentry/internal/store"
	"stitchsentry/internal/testsupport"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) snapshot() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]events.Event, len(p.events))
	copy(cp, p.events)
	return cp
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *capturePublisher) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	plans, err := catalog.LoadPlans("")
	if err != nil {
		t.Fatalf("catalog.LoadPlans: %v", err)
	}
	presets, err := catalog.LoadPresets("")
	if err != nil {
		t.Fatalf("catalog.LoadPresets: %v", err)
	}
	pub := &capturePublisher{}
	gateway := parser.NewGateway(cfg.Parser, logging.NewNop())
	return NewManager(cfg, st, plans, presets, gateway, pub, logging.NewNop()), st, pub
}

func grantCredits(t *testing.T, st *store.Store, orgID string, amount int) {
	t.Helper()
	if _, err := st.AppendLedgerEntry(context.Background(), orgID, store.EntryCredit, amount, "signup bonus", "", "grant:"+t.Name()); err != nil {
		t.Fatalf("AppendLedgerEntry: %v", err)
	}
}

func claimRun(t *testing.T, st *store.Store) *store.Run {
	t.Helper()
	run, err := st.ClaimNextQueued(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextQueued: %v", err)
	}
	if run == nil {
		t.Fatal("expected a queued run to claim")
	}
	return run
}

func TestProcessRunCompletes(t *testing.T) {
	m, st, pub := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme Stitchworks", "starter")
	grantCredits(t, st, org.ID, 10)
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	testsupport.NewRun(t, st, org.ID, file.ID, "left_chest", "starter")

	claimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), claimed); err != nil {
		t.Fatalf("processRun: %v", err)
	}

	stored, err := st.GetRun(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("status = %q, want completed (message %q)", stored.Status, stored.ProgressMessage)
	}
	if stored.ProgressPercent != 100 {
		t.Errorf("progress = %v, want 100", stored.ProgressPercent)
	}
	if stored.Score == nil || *stored.Score != 92 {
		t.Errorf("score = %v, want 92", stored.Score)
	}
	if stored.RiskLevel != "low" {
		t.Errorf("risk level = %q, want low", stored.RiskLevel)
	}
	if stored.FinishedAt == nil {
		t.Error("finished_at not set")
	}
	if stored.SummaryJSON == "" {
		t.Fatal("summary not written for starter plan")
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(stored.SummaryJSON), &summary); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if summary["score"] != float64(92) {
		t.Errorf("summary score = %v, want 92", summary["score"])
	}

	findings, err := st.ListFindings(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("ListFindings: %v", err)
	}
	if len(findings) != 7 {
		t.Fatalf("findings = %d, want 7", len(findings))
	}
	if findings[0].Severity != store.SeverityWarn {
		t.Errorf("worst finding severity = %q, want warn", findings[0].Severity)
	}

	artifacts, err := st.ListArtifacts(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	kinds := map[string]bool{}
	for _, artifact := range artifacts {
		kinds[artifact.Kind] = true
		if _, err := os.Stat(artifact.Path); err != nil {
			t.Errorf("artifact %s missing on disk: %v", artifact.Kind, err)
		}
	}
	for _, want := range []string{ArtifactPreview, ArtifactDensity, ArtifactJumps, ArtifactReport} {
		if !kinds[want] {
			t.Errorf("missing artifact kind %q", want)
		}
	}

	balance, err := st.CreditBalance(ctx, org.ID)
	if err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}
	if balance != 8 {
		t.Errorf("balance = %d, want 8 after summary and export debits", balance)
	}

	published := pub.snapshot()
	if len(published) < 7 {
		t.Fatalf("published %d events, want at least 7", len(published))
	}
	last := published[len(published)-1]
	if last.Status != string(store.StatusCompleted) || last.Percent != 100 {
		t.Errorf("final event = %+v, want completed at 100", last)
	}
}

func TestProcessRunFreePlanSkipsGatedWork(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Hobbyist", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	testsupport.NewRun(t, st, org.ID, file.ID, "custom", "free")

	claimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), claimed); err != nil {
		t.Fatalf("processRun: %v", err)
	}

	stored, err := st.GetRun(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("status = %q, want completed", stored.Status)
	}
	if stored.SummaryJSON != "" {
		t.Error("free plan should not get a summary")
	}

	artifacts, err := st.ListArtifacts(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	for _, artifact := range artifacts {
		if artifact.Kind == ArtifactReport {
			t.Error("free plan should not get a report artifact")
		}
	}
	if len(artifacts) != 3 {
		t.Errorf("artifacts = %d, want 3 renders", len(artifacts))
	}

	entries, err := st.ListLedgerEntries(ctx, org.ID, 10)
	if err != nil {
		t.Fatalf("ListLedgerEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want none", len(entries))
	}
}

func TestProcessRunReplayDoesNotDuplicate(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Replay Shop", "starter")
	grantCredits(t, st, org.ID, 10)
	file := testsupport.NewDesignFile(t, st, org.ID, 2048)
	testsupport.NewRun(t, st, org.ID, file.ID, "left_chest", "starter")

	claimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), claimed); err != nil {
		t.Fatalf("first processRun: %v", err)
	}

	// Simulate a reclaim after a stale heartbeat and run the whole pipeline
	// again.
	requeued, err := st.GetRun(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	requeued.Status = store.StatusQueued
	requeued.LastHeartbeat = nil
	if err := st.UpdateRun(ctx, requeued); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	reclaimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), reclaimed); err != nil {
		t.Fatalf("second processRun: %v", err)
	}

	findings, err := st.ListFindings(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("ListFindings: %v", err)
	}
	if len(findings) != 7 {
		t.Errorf("findings after replay = %d, want 7", len(findings))
	}
	artifacts, err := st.ListArtifacts(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(artifacts) != 4 {
		t.Errorf("artifacts after replay = %d, want 4", len(artifacts))
	}
	balance, err := st.CreditBalance(ctx, org.ID)
	if err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}
	if balance != 8 {
		t.Errorf("balance after replay = %d, want 8; debits must be idempotent", balance)
	}
}

func TestProcessRunReclaimNeverRegressesStage(t *testing.T) {
	m, st, pub := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Interrupted Shop", "starter")
	grantCredits(t, st, org.ID, 10)
	file := testsupport.NewDesignFile(t, st, org.ID, 2048)
	created := testsupport.NewRun(t, st, org.ID, file.ID, "left_chest", "starter")

	// Simulate a worker that died mid-run after persisting the summary stage.
	interrupted, err := st.GetRun(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	interrupted.Status = store.StatusQueued
	interrupted.SetProgress(store.StageSummary, "Built run summary", store.StageSummary.Progress())
	interrupted.LastHeartbeat = nil
	if err := st.UpdateRun(ctx, interrupted); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	reclaimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), reclaimed); err != nil {
		t.Fatalf("processRun: %v", err)
	}

	resumeIndex := -1
	for i, s := range store.Stages() {
		if s == store.StageSummary {
			resumeIndex = i
		}
	}
	stageIndexes := map[string]int{}
	for i, s := range store.Stages() {
		stageIndexes[string(s)] = i
	}
	percent := store.StageSummary.Progress()
	for _, event := range pub.snapshot() {
		if stageIndexes[event.Stage] < resumeIndex {
			t.Errorf("event regressed to stage %q before %q", event.Stage, store.StageSummary)
		}
		if event.Percent < percent {
			t.Errorf("event percent decreased: %d after %d", event.Percent, percent)
		}
		percent = event.Percent
	}

	stored, err := st.GetRun(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("status = %q, want completed (message %q)", stored.Status, stored.ProgressMessage)
	}
	if stored.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", stored.ProgressPercent)
	}

	// Earlier stages still replayed: findings and artifacts were rebuilt.
	findings, err := st.ListFindings(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListFindings: %v", err)
	}
	if len(findings) != 7 {
		t.Errorf("findings = %d, want 7", len(findings))
	}
	artifacts, err := st.ListArtifacts(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(artifacts) != 4 {
		t.Errorf("artifacts = %d, want 4", len(artifacts))
	}
}

type failingStage struct{}

func (failingStage) Prepare(context.Context, *stage.State) error { return nil }

func (failingStage) Execute(context.Context, *stage.State) error {
	return services.Wrap(services.ErrGateway, "parse", "metrics", "parser unavailable", nil)
}

func (failingStage) HealthCheck(context.Context) stage.Health { return stage.Healthy("parse") }

func TestProcessRunFailureSetsErrorCode(t *testing.T) {
	m, st, pub := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Broken Gateway", "starter")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	testsupport.NewRun(t, st, org.ID, file.ID, "left_chest", "starter")
	m.SetHandler(store.StageParse, failingStage{})

	claimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), claimed); err == nil {
		t.Fatal("expected processRun to fail")
	}

	stored, err := st.GetRun(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != store.StatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.ErrorCode != "gateway_failed" {
		t.Errorf("error code = %q, want gateway_failed", stored.ErrorCode)
	}
	if stored.SupportID == "" {
		t.Error("support id not set")
	}
	if stored.ErrorMessage == "" {
		t.Error("error message not set")
	}

	published := pub.snapshot()
	if len(published) == 0 {
		t.Fatal("no events published")
	}
	last := published[len(published)-1]
	if last.Status != string(store.StatusFailed) {
		t.Errorf("final event status = %q, want failed", last.Status)
	}
	if last.Meta["error_code"] != "gateway_failed" {
		t.Errorf("final event meta = %v, want error_code gateway_failed", last.Meta)
	}
}

func TestProcessRunUnknownPresetFails(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Typo Inc", "starter")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	testsupport.NewRun(t, st, org.ID, file.ID, "no_such_preset", "starter")

	claimed := claimRun(t, st)
	if err := m.processRun(ctx, logging.NewNop(), claimed); err == nil {
		t.Fatal("expected processRun to fail")
	}

	stored, err := st.GetRun(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != store.StatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.ErrorCode != "validation_failed" {
		t.Errorf("error code = %q, want validation_failed", stored.ErrorCode)
	}
}

func TestManagerStartProcessesQueue(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Background Shop", "starter")
	grantCredits(t, st, org.ID, 10)
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	run := testsupport.NewRun(t, st, org.ID, file.ID, "left_chest", "starter")

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	if err := m.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		stored, err := st.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if stored.Status == store.StatusCompleted {
			break
		}
		if stored.Status == store.StatusFailed {
			t.Fatalf("run failed: %s (%s)", stored.ErrorMessage, stored.ErrorCode)
		}
		if time.Now().After(deadline) {
			t.Fatalf("run still %q after deadline", stored.Status)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestHealthCoversEveryStage(t *testing.T) {
	m, _, _ := newTestManager(t)

	checks := m.Health(context.Background())
	if len(checks) != len(store.Stages()) {
		t.Fatalf("health checks = %d, want %d", len(checks), len(store.Stages()))
	}
	for _, check := range checks {
		if !check.Ready {
			t.Errorf("stage %s unhealthy: %s", check.Name, check.Detail)
		}
	}
}

func TestHeartbeatMonitorReclaims(t *testing.T) {
	_, st, _ := newTestManager(t)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Stale Worker", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	testsupport.NewRun(t, st, org.ID, file.ID, "custom", "free")
	claimed := claimRun(t, st)

	monitor := NewHeartbeatMonitor(st, logging.NewNop(), time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if err := monitor.ReclaimStale(ctx, logging.NewNop()); err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}

	stored, err := st.GetRun(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != store.StatusQueued {
		t.Fatalf("status = %q, want queued after reclaim", stored.Status)
	}
	if stored.LastHeartbeat != nil {
		t.Error("heartbeat should be cleared on reclaim")
	}
}
