package billing

import (
	"context"
	"fmt"
	"time"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/config"
	"stitchsentry/internal/store"
)

// Quota decision codes surfaced to API callers.
const (
	CodeFileTooLarge      = "file_too_large"
	CodeDailyLimitReached = "daily_limit_reached"
	CodePresetNotAllowed  = "preset_not_allowed"
)

const bytesPerMB = 1 << 20

// Decision is the outcome of a gate check. Code and Message are set only when
// the check is denied.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code, message string) Decision {
	return Decision{Allowed: false, Code: code, Message: message}
}

// FeatureGate enforces plan limits. Daily quotas are counted in a fixed
// reference timezone so the window does not drift with the caller's locale.
type FeatureGate struct {
	store    *store.Store
	location *time.Location
	now      func() time.Time
}

// NewFeatureGate builds a gate using the configured quota timezone.
func NewFeatureGate(st *store.Store, cfg *config.Config) *FeatureGate {
	return &FeatureGate{
		store:    st,
		location: cfg.ReferenceLocation(),
		now:      time.Now,
	}
}

// WithNow overrides the gate's clock. Test hook.
func (g *FeatureGate) WithNow(now func() time.Time) *FeatureGate {
	g.now = now
	return g
}

// MaxFileSizeBytes converts a plan's file size limit to bytes.
func MaxFileSizeBytes(plan catalog.Plan) int64 {
	return int64(plan.Limits.MaxFileSizeMB) * bytesPerMB
}

// CheckFileSize denies files larger than the plan allows.
func (g *FeatureGate) CheckFileSize(plan catalog.Plan, sizeBytes int64) Decision {
	limit := MaxFileSizeBytes(plan)
	if sizeBytes > limit {
		return deny(CodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, plan %q allows up to %d MB", sizeBytes, plan.Slug, plan.Limits.MaxFileSizeMB))
	}
	return allow()
}

// CheckPreset denies presets the plan does not include.
func (g *FeatureGate) CheckPreset(plan catalog.Plan, presetSlug string) Decision {
	for _, allowed := range plan.Limits.Presets {
		if allowed == presetSlug {
			return allow()
		}
	}
	return deny(CodePresetNotAllowed,
		fmt.Sprintf("preset %q is not included in plan %q", presetSlug, plan.Slug))
}

// CanStartRunToday counts the organization's runs created in the current
// reference day and denies once the plan's daily limit is reached.
func (g *FeatureGate) CanStartRunToday(ctx context.Context, orgID string, plan catalog.Plan) (Decision, error) {
	from, to := g.dayWindow()
	count, err := g.store.CountRunsCreatedBetween(ctx, orgID, from, to)
	if err != nil {
		return Decision{}, fmt.Errorf("count daily runs: %w", err)
	}
	if count >= plan.Limits.DailyQaRuns {
		return deny(CodeDailyLimitReached,
			fmt.Sprintf("plan %q allows %d QA runs per day", plan.Slug, plan.Limits.DailyQaRuns)), nil
	}
	return allow(), nil
}

// CheckRunStart combines the preset, file size, and daily quota checks in the
// order callers see them.
func (g *FeatureGate) CheckRunStart(ctx context.Context, orgID string, plan catalog.Plan, presetSlug string, sizeBytes int64) (Decision, error) {
	if decision := g.CheckPreset(plan, presetSlug); !decision.Allowed {
		return decision, nil
	}
	if decision := g.CheckFileSize(plan, sizeBytes); !decision.Allowed {
		return decision, nil
	}
	return g.CanStartRunToday(ctx, orgID, plan)
}

func (g *FeatureGate) dayWindow() (time.Time, time.Time) {
	now := g.now().In(g.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.location)
	return start, start.AddDate(0, 0, 1)
}
