package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stitchsentry/internal/store"
	"stitchsentry/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	org := testsupport.NewOrganization(t, st, "Acme Embroidery", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)

	run, err := st.CreateRun(ctx, org.ID, file.ID, "user-1", "cap", "free")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run ID to be assigned")
	}
	if run.Status != store.StatusQueued {
		t.Fatalf("new run status = %q, want queued", run.Status)
	}
	if run.Stage != store.StageIngest {
		t.Fatalf("new run stage = %q, want ingest", run.Stage)
	}
	if run.ProgressPercent != 0 {
		t.Fatalf("new run progress = %v, want 0", run.ProgressPercent)
	}

	fetched, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched == nil || fetched.PresetSlug != "cap" || fetched.PlanSlug != "free" {
		t.Fatalf("unexpected fetched run: %#v", fetched)
	}
}

func TestStageOrdering(t *testing.T) {
	stages := store.Stages()
	want := []store.Stage{
		store.StageIngest, store.StageParse, store.StageRender,
		store.StageRuleQA, store.StageSummary, store.StageExport,
	}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}

	progress := []int{10, 30, 55, 75, 90, 100}
	for i, stage := range want {
		if stage.Progress() != progress[i] {
			t.Errorf("%s progress = %v, want %v", stage, stage.Progress(), progress[i])
		}
	}

	next, ok := store.StageIngest.Next()
	if !ok || next != store.StageParse {
		t.Fatalf("ingest next = %v, %v", next, ok)
	}
	if _, ok := store.StageExport.Next(); ok {
		t.Fatal("export should be the last stage")
	}

	from := store.StagesFrom(store.StageRuleQA)
	if len(from) != 3 || from[0] != store.StageRuleQA || from[2] != store.StageExport {
		t.Fatalf("StagesFrom(rule_qa) = %v", from)
	}

	if !store.StageIngest.Before(store.StageSummary) {
		t.Error("ingest should sort before summary")
	}
	if store.StageSummary.Before(store.StageSummary) {
		t.Error("a stage is not before itself")
	}
	if store.StageExport.Before(store.StageParse) {
		t.Error("export should not sort before parse")
	}
}

func TestRunProgressNeverRegresses(t *testing.T) {
	run := &store.Run{ProgressPercent: 55}
	run.SetProgress(store.StageParse, "replayed", 30)
	if run.ProgressPercent != 55 {
		t.Fatalf("progress regressed to %v", run.ProgressPercent)
	}
	run.SetProgress(store.StageRuleQA, "advanced", 75)
	if run.ProgressPercent != 75 {
		t.Fatalf("progress = %v, want 75", run.ProgressPercent)
	}
}

func TestClaimNextQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	first := testsupport.NewRun(t, st, org.ID, file.ID, "cap", "free")
	testsupport.NewRun(t, st, org.ID, file.ID, "patch", "free")

	claimed, err := st.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("ClaimNextQueued failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("claimed %#v, want run %d", claimed, first.ID)
	}
	if claimed.Status != store.StatusRunning {
		t.Fatalf("claimed status = %q, want running", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Fatal("claim should set started_at")
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("claim should set last_heartbeat")
	}

	second, err := st.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("second claim returned %#v", second)
	}

	third, err := st.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("third claim failed: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queue, got %#v", third)
	}
}

func TestReclaimStaleRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	run := testsupport.NewRun(t, st, org.ID, file.ID, "cap", "free")

	claimed, err := st.ClaimNextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v %#v", err, claimed)
	}

	// A cutoff in the past reclaims nothing.
	reclaimed, err := st.ReclaimStaleRunning(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed %d runs with past cutoff", reclaimed)
	}

	// A cutoff in the future treats the heartbeat as expired.
	reclaimed, err = st.ReclaimStaleRunning(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed %d runs, want 1", reclaimed)
	}

	refreshed, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if refreshed.Status != store.StatusQueued {
		t.Fatalf("reclaimed status = %q, want queued", refreshed.Status)
	}
	if refreshed.LastHeartbeat != nil {
		t.Fatal("reclaim should clear last_heartbeat")
	}
}

func TestUpdateRunPersistsOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "starter")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	run := testsupport.NewRun(t, st, org.ID, file.ID, "cap", "starter")

	score := 84
	now := time.Now().UTC()
	run.Status = store.StatusCompleted
	run.Stage = store.StageExport
	run.ProgressPercent = 100
	run.Score = &score
	run.RiskLevel = "medium"
	run.SummaryJSON = `{"digest":"ok"}`
	run.FinishedAt = &now
	if err := st.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	fetched, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched.Status != store.StatusCompleted || fetched.Score == nil || *fetched.Score != 84 {
		t.Fatalf("unexpected run after update: %#v", fetched)
	}
	if fetched.RiskLevel != "medium" || fetched.FinishedAt == nil {
		t.Fatalf("unexpected run after update: %#v", fetched)
	}
}

func TestCountRunsCreatedBetween(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "free")
	other := testsupport.NewOrganization(t, st, "Other", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	otherFile := testsupport.NewDesignFile(t, st, other.ID, 1024)

	for i := 0; i < 3; i++ {
		testsupport.NewRun(t, st, org.ID, file.ID, "custom", "free")
	}
	testsupport.NewRun(t, st, other.ID, otherFile.ID, "custom", "free")

	from := time.Now().Add(-time.Minute)
	to := time.Now().Add(time.Minute)
	count, err := st.CountRunsCreatedBetween(ctx, org.ID, from, to)
	if err != nil {
		t.Fatalf("CountRunsCreatedBetween failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	count, err = st.CountRunsCreatedBetween(ctx, org.ID, to, to.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountRunsCreatedBetween failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("count outside window = %d, want 0", count)
	}
}

func TestReplaceFindingsOrdersWorstFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "free")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	run := testsupport.NewRun(t, st, org.ID, file.ID, "cap", "free")

	findings := []store.Finding{
		{RuleKey: "jump_count", Severity: store.SeverityPass, Title: "Jump count OK"},
		{RuleKey: "hoop_fit", Severity: store.SeverityFail, Title: "Design exceeds hoop"},
		{RuleKey: "color_changes", Severity: store.SeverityWarn, Title: "Many color changes"},
		{RuleKey: "min_stitch_length", Severity: store.SeverityWarn, Title: "Short stitches"},
	}
	if err := st.ReplaceFindings(ctx, run.ID, findings); err != nil {
		t.Fatalf("ReplaceFindings failed: %v", err)
	}

	// Replaying must not duplicate findings.
	if err := st.ReplaceFindings(ctx, run.ID, findings); err != nil {
		t.Fatalf("ReplaceFindings replay failed: %v", err)
	}

	listed, err := st.ListFindings(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListFindings failed: %v", err)
	}
	if len(listed) != 4 {
		t.Fatalf("got %d findings, want 4", len(listed))
	}
	wantOrder := []string{"hoop_fit", "color_changes", "min_stitch_length", "jump_count"}
	for i, key := range wantOrder {
		if listed[i].RuleKey != key {
			t.Fatalf("finding order = %v", listed)
		}
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "starter")
	file := testsupport.NewDesignFile(t, st, org.ID, 1024)
	run := testsupport.NewRun(t, st, org.ID, file.ID, "cap", "starter")

	artifact, err := st.CreateArtifact(ctx, &store.Artifact{
		RunID:    run.ID,
		Kind:     "preview",
		Disk:     "local",
		Path:     "artifacts/1/preview.png",
		MetaJSON: `{"width":1,"height":1}`,
	})
	if err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	if artifact.ID == 0 {
		t.Fatal("expected artifact ID to be assigned")
	}

	artifacts, err := st.ListArtifacts(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Kind != "preview" {
		t.Fatalf("unexpected artifacts: %#v", artifacts)
	}
}

func TestLedgerIdempotency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "starter")

	entry, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryCredit, 10, "signup grant", `{"source":"checkout"}`, "grant-1")
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if entry.MetaJSON != `{"source":"checkout"}` {
		t.Fatalf("meta = %q, want stored verbatim", entry.MetaJSON)
	}
	replay, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryCredit, 10, "signup grant", `{"source":"checkout"}`, "grant-1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.ID != entry.ID {
		t.Fatalf("replay created a new entry: %d vs %d", replay.ID, entry.ID)
	}

	balance, err := st.CreditBalance(ctx, org.ID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 10 {
		t.Fatalf("balance = %d, want 10", balance)
	}
}

func TestLedgerDebitGuardsBalance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "starter")
	if _, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryCredit, 5, "grant", "", "grant-1"); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	if _, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryDebit, 6, "too much", "", "debit-1"); !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// Draining to exactly zero is allowed.
	if _, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryDebit, 5, "drain", "", "debit-2"); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	balance, err := st.CreditBalance(ctx, org.ID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}

	if _, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryCredit, 0, "zero", "", "bad-1"); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestLedgerHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "shop")
	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("grant-%d", i)
		if _, err := st.AppendLedgerEntry(ctx, org.ID, store.EntryCredit, i, "grant", "", key); err != nil {
			t.Fatalf("credit %d failed: %v", i, err)
		}
	}

	entries, err := st.ListLedgerEntries(ctx, org.ID, 2)
	if err != nil {
		t.Fatalf("ListLedgerEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Amount != 3 || entries[1].Amount != 2 {
		t.Fatalf("unexpected order: %#v", entries)
	}
}

func TestSubscriptionUpsert(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "free")

	sub, err := st.UpsertSubscription(ctx, org.ID, "default", store.SubscriptionStatusActive, "pri_123")
	if err != nil {
		t.Fatalf("UpsertSubscription failed: %v", err)
	}
	if sub.PriceID != "pri_123" || sub.Status != store.SubscriptionStatusActive {
		t.Fatalf("unexpected subscription: %#v", sub)
	}

	updated, err := st.UpsertSubscription(ctx, org.ID, "default", "canceled", "pri_123")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if updated.ID != sub.ID {
		t.Fatalf("upsert created a new row: %d vs %d", updated.ID, sub.ID)
	}
	if updated.Status != "canceled" {
		t.Fatalf("status = %q, want canceled", updated.Status)
	}
}

func TestFindDesignFileByChecksum(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	org := testsupport.NewOrganization(t, st, "Acme", "free")
	file, err := st.CreateDesignFile(ctx, &store.DesignFile{
		OrganizationID: org.ID,
		Disk:           "local",
		Path:           "designs/a.dst",
		OriginalName:   "a.dst",
		Format:         "dst",
		SizeBytes:      10,
		ChecksumSHA256: "abc123",
	})
	if err != nil {
		t.Fatalf("CreateDesignFile failed: %v", err)
	}

	found, err := st.FindDesignFileByChecksum(ctx, org.ID, "abc123")
	if err != nil {
		t.Fatalf("FindDesignFileByChecksum failed: %v", err)
	}
	if found == nil || found.ID != file.ID {
		t.Fatalf("found %#v, want file %d", found, file.ID)
	}

	missing, err := st.FindDesignFileByChecksum(ctx, org.ID, "zzz")
	if err != nil {
		t.Fatalf("FindDesignFileByChecksum failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown checksum, got %#v", missing)
	}
}
