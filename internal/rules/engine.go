package rules

import (
	"encoding/json"
	"fmt"
	"sort"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/store"
)

// Rule keys, one per check the engine runs.
const (
	RuleHoopFit         = "hoop_fit"
	RuleJumpCount       = "jump_count"
	RuleLongestJump     = "longest_jump"
	RuleColorChanges    = "color_changes"
	RuleMinStitchLength = "min_stitch_length"
	RuleDensityHotspots = "density_hotspots"
	RuleTinyText        = "tiny_text"
)

// Risk levels derived from the score.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

// Evaluation is the outcome of running every rule against one design.
type Evaluation struct {
	Findings  []store.Finding
	Score     int
	RiskLevel string
	Failures  int
	Warnings  int
}

// Engine runs the rule set with the catalog's scoring policy.
type Engine struct {
	weights catalog.SeverityWeights
	scoring catalog.Scoring
}

// NewEngine builds an engine from the preset catalog's scoring policy.
func NewEngine(presets *catalog.PresetCatalog) *Engine {
	return &Engine{weights: presets.Weights(), scoring: presets.Scoring()}
}

// Evaluate runs every rule for the preset over the metrics. Findings are
// ordered worst severity first, then by rule key.
func (e *Engine) Evaluate(preset catalog.Preset, m parser.Metrics) Evaluation {
	findings := []store.Finding{
		evalHoopFit(preset, m),
		evalJumpCount(preset.Rules, m),
		evalLongestJump(preset.Rules, m),
		evalColorChanges(preset.Rules, m),
		evalMinStitchLength(preset.Rules, m),
		evalDensityHotspots(preset.Rules, m),
		evalTinyText(preset.Rules, m),
	}

	sortFindings(findings)

	var failures, warnings int
	for _, finding := range findings {
		switch finding.Severity {
		case store.SeverityFail:
			failures++
		case store.SeverityWarn:
			warnings++
		}
	}

	score := e.scoring.BaseScore - warnings*e.weights.Warn - failures*e.weights.Fail
	if score < e.scoring.MinScore {
		score = e.scoring.MinScore
	}
	if score > e.scoring.MaxScore {
		score = e.scoring.MaxScore
	}

	return Evaluation{
		Findings:  findings,
		Score:     score,
		RiskLevel: riskLevel(score),
		Failures:  failures,
		Warnings:  warnings,
	}
}

func riskLevel(score int) string {
	switch {
	case score < 50:
		return RiskHigh
	case score < 80:
		return RiskMedium
	default:
		return RiskLow
	}
}

var severityRank = map[string]int{
	store.SeverityFail: 0,
	store.SeverityWarn: 1,
	store.SeverityPass: 2,
}

func sortFindings(findings []store.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if severityRank[findings[i].Severity] != severityRank[findings[j].Severity] {
			return severityRank[findings[i].Severity] < severityRank[findings[j].Severity]
		}
		return findings[i].RuleKey < findings[j].RuleKey
	})
}

func evidence(values map[string]any) string {
	encoded, err := json.Marshal(values)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func evalHoopFit(preset catalog.Preset, m parser.Metrics) store.Finding {
	limits := preset.HoopLimits
	ev := evidence(map[string]any{
		"width_mm":       m.WidthMM,
		"height_mm":      m.HeightMM,
		"hoop_width_mm":  limits.WidthMM,
		"hoop_height_mm": limits.HeightMM,
	})
	// A design that exactly matches the hoop still fits.
	if m.WidthMM > limits.WidthMM || m.HeightMM > limits.HeightMM {
		return store.Finding{
			RuleKey:  RuleHoopFit,
			Severity: store.SeverityFail,
			Title:    "Design exceeds hoop limits",
			Detail: fmt.Sprintf("Design is %.1f x %.1f mm; the %s hoop allows %.0f x %.0f mm.",
				m.WidthMM, m.HeightMM, preset.Slug, limits.WidthMM, limits.HeightMM),
			EvidenceJSON: ev,
		}
	}
	return store.Finding{
		RuleKey:      RuleHoopFit,
		Severity:     store.SeverityPass,
		Title:        "Design fits the hoop",
		Detail:       fmt.Sprintf("Design is %.1f x %.1f mm within %.0f x %.0f mm limits.", m.WidthMM, m.HeightMM, limits.WidthMM, limits.HeightMM),
		EvidenceJSON: ev,
	}
}

func evalJumpCount(rules catalog.RuleThresholds, m parser.Metrics) store.Finding {
	ev := evidence(map[string]any{
		"jump_count": m.JumpCount,
		"warn_at":    rules.MaxJumpCountWarn,
		"fail_at":    rules.MaxJumpCountFail,
	})
	switch {
	case m.JumpCount >= rules.MaxJumpCountFail:
		return store.Finding{
			RuleKey:      RuleJumpCount,
			Severity:     store.SeverityFail,
			Title:        "Excessive jump stitches",
			Detail:       fmt.Sprintf("%d jumps reaches the failure limit of %d.", m.JumpCount, rules.MaxJumpCountFail),
			EvidenceJSON: ev,
		}
	case m.JumpCount >= rules.MaxJumpCountWarn:
		return store.Finding{
			RuleKey:      RuleJumpCount,
			Severity:     store.SeverityWarn,
			Title:        "High jump stitch count",
			Detail:       fmt.Sprintf("%d jumps exceeds the recommended %d.", m.JumpCount, rules.MaxJumpCountWarn),
			EvidenceJSON: ev,
		}
	}
	return store.Finding{
		RuleKey:      RuleJumpCount,
		Severity:     store.SeverityPass,
		Title:        "Jump stitch count acceptable",
		Detail:       fmt.Sprintf("%d jumps is under the %d warning threshold.", m.JumpCount, rules.MaxJumpCountWarn),
		EvidenceJSON: ev,
	}
}

func evalLongestJump(rules catalog.RuleThresholds, m parser.Metrics) store.Finding {
	ev := evidence(map[string]any{
		"longest_jump_mm": m.LongestJumpMM,
		"warn_at":         rules.MaxLongestJumpMMWarn,
		"fail_at":         rules.MaxLongestJumpMMFail,
	})
	switch {
	case m.LongestJumpMM >= rules.MaxLongestJumpMMFail:
		return store.Finding{
			RuleKey:      RuleLongestJump,
			Severity:     store.SeverityFail,
			Title:        "Jump stitch too long",
			Detail:       fmt.Sprintf("Longest jump is %.1f mm, failure limit is %.1f mm.", m.LongestJumpMM, rules.MaxLongestJumpMMFail),
			EvidenceJSON: ev,
		}
	case m.LongestJumpMM >= rules.MaxLongestJumpMMWarn:
		return store.Finding{
			RuleKey:      RuleLongestJump,
			Severity:     store.SeverityWarn,
			Title:        "Long jump stitch",
			Detail:       fmt.Sprintf("Longest jump is %.1f mm, recommended maximum is %.1f mm.", m.LongestJumpMM, rules.MaxLongestJumpMMWarn),
			EvidenceJSON: ev,
		}
	}
	return store.Finding{
		RuleKey:      RuleLongestJump,
		Severity:     store.SeverityPass,
		Title:        "Jump lengths acceptable",
		Detail:       fmt.Sprintf("Longest jump is %.1f mm.", m.LongestJumpMM),
		EvidenceJSON: ev,
	}
}

func evalColorChanges(rules catalog.RuleThresholds, m parser.Metrics) store.Finding {
	ev := evidence(map[string]any{
		"color_changes": m.ColorChanges,
		"warn_at":       rules.MaxColorChangesWarn,
		"fail_at":       rules.MaxColorChangesFail,
	})
	switch {
	case m.ColorChanges >= rules.MaxColorChangesFail:
		return store.Finding{
			RuleKey:      RuleColorChanges,
			Severity:     store.SeverityFail,
			Title:        "Excessive color changes",
			Detail:       fmt.Sprintf("%d color changes reaches the failure limit of %d.", m.ColorChanges, rules.MaxColorChangesFail),
			EvidenceJSON: ev,
		}
	case m.ColorChanges >= rules.MaxColorChangesWarn:
		return store.Finding{
			RuleKey:      RuleColorChanges,
			Severity:     store.SeverityWarn,
			Title:        "Many color changes",
			Detail:       fmt.Sprintf("%d color changes exceeds the recommended %d.", m.ColorChanges, rules.MaxColorChangesWarn),
			EvidenceJSON: ev,
		}
	}
	return store.Finding{
		RuleKey:      RuleColorChanges,
		Severity:     store.SeverityPass,
		Title:        "Color change count acceptable",
		Detail:       fmt.Sprintf("%d color changes is under the %d warning threshold.", m.ColorChanges, rules.MaxColorChangesWarn),
		EvidenceJSON: ev,
	}
}

func evalMinStitchLength(rules catalog.RuleThresholds, m parser.Metrics) store.Finding {
	ev := evidence(map[string]any{
		"min_stitch_length_mm": m.MinStitchLengthMM,
		"warn_below":           rules.MinStitchLengthMMWarn,
		"fail_below":           rules.MinStitchLengthMMFail,
	})
	switch {
	case m.MinStitchLengthMM <= rules.MinStitchLengthMMFail:
		return store.Finding{
			RuleKey:      RuleMinStitchLength,
			Severity:     store.SeverityFail,
			Title:        "Stitches too short",
			Detail:       fmt.Sprintf("Shortest stitch is %.2f mm, failure limit is %.2f mm.", m.MinStitchLengthMM, rules.MinStitchLengthMMFail),
			EvidenceJSON: ev,
		}
	case m.MinStitchLengthMM <= rules.MinStitchLengthMMWarn:
		return store.Finding{
			RuleKey:      RuleMinStitchLength,
			Severity:     store.SeverityWarn,
			Title:        "Very short stitches",
			Detail:       fmt.Sprintf("Shortest stitch is %.2f mm, recommended minimum is %.2f mm.", m.MinStitchLengthMM, rules.MinStitchLengthMMWarn),
			EvidenceJSON: ev,
		}
	}
	return store.Finding{
		RuleKey:      RuleMinStitchLength,
		Severity:     store.SeverityPass,
		Title:        "Stitch lengths acceptable",
		Detail:       fmt.Sprintf("Shortest stitch is %.2f mm.", m.MinStitchLengthMM),
		EvidenceJSON: ev,
	}
}

func evalDensityHotspots(rules catalog.RuleThresholds, m parser.Metrics) store.Finding {
	if m.DensityMaxRatio == nil || m.DensityHotspotTiles == nil {
		return store.Finding{
			RuleKey:  RuleDensityHotspots,
			Severity: store.SeverityPass,
			Title:    "Density analysis unavailable",
			Detail:   "The parser did not report density metrics for this file; hotspot checks were skipped.",
			EvidenceJSON: evidence(map[string]any{
				"density_metrics_present": false,
			}),
		}
	}

	ratio := *m.DensityMaxRatio
	tiles := *m.DensityHotspotTiles
	ev := evidence(map[string]any{
		"density_max_ratio":     ratio,
		"density_hotspot_tiles": tiles,
		"ratio_warn_at":         rules.DensityHotspotThresholdWarn,
		"ratio_fail_at":         rules.DensityHotspotThresholdFail,
		"tiles_warn_at":         rules.DensityHotspotTilesWarn,
		"tiles_fail_at":         rules.DensityHotspotTilesFail,
		"tile_size_mm":          rules.DensityTileSizeMM,
	})
	switch {
	case ratio >= rules.DensityHotspotThresholdFail || tiles >= rules.DensityHotspotTilesFail:
		return store.Finding{
			RuleKey:      RuleDensityHotspots,
			Severity:     store.SeverityFail,
			Title:        "Severe density hotspots",
			Detail:       fmt.Sprintf("Peak density ratio %.2f across %d hotspot tiles risks thread breaks and puckering.", ratio, tiles),
			EvidenceJSON: ev,
		}
	case ratio >= rules.DensityHotspotThresholdWarn || tiles >= rules.DensityHotspotTilesWarn:
		return store.Finding{
			RuleKey:      RuleDensityHotspots,
			Severity:     store.SeverityWarn,
			Title:        "Density hotspots detected",
			Detail:       fmt.Sprintf("Peak density ratio %.2f across %d hotspot tiles may cause stiff areas.", ratio, tiles),
			EvidenceJSON: ev,
		}
	}
	return store.Finding{
		RuleKey:      RuleDensityHotspots,
		Severity:     store.SeverityPass,
		Title:        "Stitch density acceptable",
		Detail:       fmt.Sprintf("Peak density ratio %.2f with %d hotspot tiles.", ratio, tiles),
		EvidenceJSON: ev,
	}
}

func evalTinyText(rules catalog.RuleThresholds, m parser.Metrics) store.Finding {
	if m.HeightMM >= rules.TinyTextMinDesignHeightMM {
		return store.Finding{
			RuleKey:  RuleTinyText,
			Severity: store.SeverityPass,
			Title:    "No tiny text risk",
			Detail:   fmt.Sprintf("Design height %.1f mm is above the %.0f mm small-design threshold.", m.HeightMM, rules.TinyTextMinDesignHeightMM),
			EvidenceJSON: evidence(map[string]any{
				"height_mm":     m.HeightMM,
				"min_height_mm": rules.TinyTextMinDesignHeightMM,
			}),
		}
	}

	if m.DensityMaxRatio != nil && *m.DensityMaxRatio >= rules.TinyTextRiskDensityThreshold {
		return store.Finding{
			RuleKey:  RuleTinyText,
			Severity: store.SeverityWarn,
			Title:    "Possible tiny text",
			Detail: fmt.Sprintf("Design height %.1f mm with peak density %.2f suggests small lettering that may not stitch cleanly.",
				m.HeightMM, *m.DensityMaxRatio),
			EvidenceJSON: evidence(map[string]any{
				"height_mm":         m.HeightMM,
				"min_height_mm":     rules.TinyTextMinDesignHeightMM,
				"density_max_ratio": *m.DensityMaxRatio,
				"density_threshold": rules.TinyTextRiskDensityThreshold,
			}),
		}
	}

	return store.Finding{
		RuleKey:  RuleTinyText,
		Severity: store.SeverityPass,
		Title:    "Tiny text risk low",
		Detail:   fmt.Sprintf("Design height %.1f mm is small but density does not indicate dense lettering.", m.HeightMM),
		EvidenceJSON: evidence(map[string]any{
			"height_mm":               m.HeightMM,
			"min_height_mm":           rules.TinyTextMinDesignHeightMM,
			"density_metrics_present": m.DensityMaxRatio != nil,
		}),
	}
}
