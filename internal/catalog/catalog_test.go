package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"stitchsentry/internal/catalog"
)

func TestLoadPlansEmbeddedDefaults(t *testing.T) {
	plans, err := catalog.LoadPlans("")
	if err != nil {
		t.Fatalf("LoadPlans failed: %v", err)
	}

	want := []string{"digitizer", "free", "shop", "starter"}
	got := plans.Slugs()
	if len(got) != len(want) {
		t.Fatalf("slugs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slugs = %v, want %v", got, want)
		}
	}

	free, ok := plans.Get("free")
	if !ok {
		t.Fatal("free plan missing")
	}
	if free.Limits.DailyQaRuns != 5 || free.Limits.MaxFileSizeMB != 10 {
		t.Fatalf("free limits = %+v", free.Limits)
	}
	if free.Limits.AISummary || free.Limits.PDFExport || free.Limits.BatchEnabled {
		t.Fatalf("free plan should not grant paid features: %+v", free.Limits)
	}
	if !free.Limits.ShareLinks {
		t.Fatal("free plan should allow share links")
	}
	if len(free.Limits.Presets) != 1 || free.Limits.Presets[0] != "custom" {
		t.Fatalf("free presets = %v", free.Limits.Presets)
	}

	digitizer, _ := plans.Get("digitizer")
	if digitizer.Limits.DailyQaRuns != 10000 || digitizer.Limits.MaxFileSizeMB != 250 {
		t.Fatalf("digitizer limits = %+v", digitizer.Limits)
	}
	if !digitizer.Limits.APIAccess || !digitizer.Limits.WhiteLabelReports {
		t.Fatalf("digitizer should grant api access and white label: %+v", digitizer.Limits)
	}
	if digitizer.Limits.TeamMembers != 25 {
		t.Fatalf("digitizer team members = %d", digitizer.Limits.TeamMembers)
	}
}

func TestLoadPlansCreditCosts(t *testing.T) {
	plans, err := catalog.LoadPlans("")
	if err != nil {
		t.Fatalf("LoadPlans failed: %v", err)
	}
	cases := map[string]int{
		"qa_ai_summary":    1,
		"qa_pdf_export":    1,
		"batch_item_proof": 1,
		"batch_export_zip": 5,
		"unknown_action":   0,
	}
	for action, want := range cases {
		if got := plans.CreditCost(action); got != want {
			t.Errorf("CreditCost(%q) = %d, want %d", action, got, want)
		}
	}
}

func TestLoadPlansAppliesConservativeDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.toml")
	content := `
[plans.free]
label = "Free"

[plans.free.limits]
ai_summary = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plans: %v", err)
	}
	plans, err := catalog.LoadPlans(path)
	if err != nil {
		t.Fatalf("LoadPlans failed: %v", err)
	}
	free, _ := plans.Get("free")
	if free.Limits.DailyQaRuns != 5 {
		t.Fatalf("daily runs default = %d, want 5", free.Limits.DailyQaRuns)
	}
	if free.Limits.MaxFileSizeMB != 10 {
		t.Fatalf("file size default = %d, want 10", free.Limits.MaxFileSizeMB)
	}
}

func TestLoadPlansRequiresFreePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.toml")
	content := `
[plans.starter]
label = "Starter"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plans: %v", err)
	}
	if _, err := catalog.LoadPlans(path); err == nil {
		t.Fatal("expected error when free plan is missing")
	}
}

func TestLoadPresetsEmbeddedDefaults(t *testing.T) {
	presets, err := catalog.LoadPresets("")
	if err != nil {
		t.Fatalf("LoadPresets failed: %v", err)
	}

	want := []string{"cap", "custom", "left_chest", "patch"}
	got := presets.Slugs()
	if len(got) != len(want) {
		t.Fatalf("slugs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slugs = %v, want %v", got, want)
		}
	}

	capPreset, ok := presets.Get("cap")
	if !ok {
		t.Fatal("cap preset missing")
	}
	if capPreset.HoopLimits.WidthMM != 130 || capPreset.HoopLimits.HeightMM != 60 {
		t.Fatalf("cap hoop limits = %+v", capPreset.HoopLimits)
	}
	if capPreset.Rules.MaxJumpCountWarn != 150 || capPreset.Rules.MaxJumpCountFail != 300 {
		t.Fatalf("cap jump thresholds = %+v", capPreset.Rules)
	}
	if capPreset.Rules.MaxLongestJumpMMWarn != 8.0 || capPreset.Rules.MaxLongestJumpMMFail != 12.0 {
		t.Fatalf("cap longest jump thresholds = %+v", capPreset.Rules)
	}
	if capPreset.Rules.MinStitchLengthMMWarn != 0.45 || capPreset.Rules.MinStitchLengthMMFail != 0.35 {
		t.Fatalf("cap stitch thresholds = %+v", capPreset.Rules)
	}
	if capPreset.Rules.DensityHotspotTilesWarn != 20 || capPreset.Rules.DensityHotspotTilesFail != 45 {
		t.Fatalf("cap density tile thresholds = %+v", capPreset.Rules)
	}
	if capPreset.Rules.TinyTextMinDesignHeightMM != 18 {
		t.Fatalf("cap tiny text height = %v", capPreset.Rules.TinyTextMinDesignHeightMM)
	}

	custom, _ := presets.Get("custom")
	if custom.HoopLimits.WidthMM != 200 || custom.HoopLimits.HeightMM != 200 {
		t.Fatalf("custom hoop limits = %+v", custom.HoopLimits)
	}
}

func TestLoadPresetsScoringPolicy(t *testing.T) {
	presets, err := catalog.LoadPresets("")
	if err != nil {
		t.Fatalf("LoadPresets failed: %v", err)
	}
	weights := presets.Weights()
	if weights.Pass != 0 || weights.Warn != 8 || weights.Fail != 20 {
		t.Fatalf("weights = %+v", weights)
	}
	scoring := presets.Scoring()
	if scoring.BaseScore != 100 || scoring.MinScore != 0 || scoring.MaxScore != 100 {
		t.Fatalf("scoring = %+v", scoring)
	}
}

func TestLoadPresetsRejectsUnorderedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.toml")
	content := `
[presets.bad]
label = "Bad"

[presets.bad.hoop_limits_mm]
width_mm = 100
height_mm = 100

[presets.bad.rules]
max_jump_count_warn = 400
max_jump_count_fail = 200
max_longest_jump_mm_warn = 10.0
max_longest_jump_mm_fail = 15.0
max_color_changes_warn = 12
max_color_changes_fail = 20
min_stitch_length_mm_warn = 0.4
min_stitch_length_mm_fail = 0.3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write presets: %v", err)
	}
	if _, err := catalog.LoadPresets(path); err == nil {
		t.Fatal("expected error for fail threshold below warn threshold")
	}
}
