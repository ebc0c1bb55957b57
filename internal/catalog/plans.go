package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"stitchsentry/internal/services"
)

//go:embed plans.toml
var defaultPlansTOML []byte

// DefaultPlanSlug is the slug every resolution failure degrades to.
const DefaultPlanSlug = "free"

// Billable action names priced in the plan catalog's credit_costs table.
const (
	ActionAISummary      = "qa_ai_summary"
	ActionPDFExport      = "qa_pdf_export"
	ActionBatchItemProof = "batch_item_proof"
	ActionBatchExportZip = "batch_export_zip"
)

// Conservative limits applied when a plan entry omits a value.
const (
	fallbackDailyRuns     = 5
	fallbackMaxFileSizeMB = 10
)

// PlanLimits describes the capabilities a plan grants.
type PlanLimits struct {
	DailyQaRuns       int      `toml:"daily_qa_runs"`
	MaxFileSizeMB     int      `toml:"max_file_size_mb"`
	BatchEnabled      bool     `toml:"batch_enabled"`
	AISummary         bool     `toml:"ai_summary"`
	PDFExport         bool     `toml:"pdf_export"`
	Presets           []string `toml:"presets"`
	TeamMembers       int      `toml:"team_members"`
	ShareLinks        bool     `toml:"share_links"`
	APIAccess         bool     `toml:"api_access"`
	WhiteLabelReports bool     `toml:"white_label_reports"`
}

// Plan is one entry of the plan catalog.
type Plan struct {
	Slug   string
	Label  string     `toml:"label"`
	Limits PlanLimits `toml:"limits"`
}

// PlanCatalog is the immutable set of known plans plus credit costs.
type PlanCatalog struct {
	plans   map[string]Plan
	credits map[string]int
	slugs   []string
}

type plansFile struct {
	Plans   map[string]Plan `toml:"plans"`
	Credits map[string]int  `toml:"credits"`
}

// LoadPlans decodes a plan catalog from path, or the embedded defaults when
// path is empty.
func LoadPlans(path string) (*PlanCatalog, error) {
	data := defaultPlansTOML
	if strings.TrimSpace(path) != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		data = fileData
	}

	var file plansFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "plans", "no plans defined", nil)
	}
	if _, ok := file.Plans[DefaultPlanSlug]; !ok {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "plans",
			fmt.Sprintf("plan catalog must define the %q plan", DefaultPlanSlug), nil)
	}

	plans := make(map[string]Plan, len(file.Plans))
	slugs := make([]string, 0, len(file.Plans))
	for slug, plan := range file.Plans {
		plan.Slug = slug
		if plan.Limits.DailyQaRuns <= 0 {
			plan.Limits.DailyQaRuns = fallbackDailyRuns
		}
		if plan.Limits.MaxFileSizeMB <= 0 {
			plan.Limits.MaxFileSizeMB = fallbackMaxFileSizeMB
		}
		plans[slug] = plan
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	credits := file.Credits
	if credits == nil {
		credits = map[string]int{}
	}

	return &PlanCatalog{plans: plans, credits: credits, slugs: slugs}, nil
}

// Get returns the plan for a slug.
func (c *PlanCatalog) Get(slug string) (Plan, bool) {
	plan, ok := c.plans[slug]
	return plan, ok
}

// Known reports whether the slug names a catalog plan.
func (c *PlanCatalog) Known(slug string) bool {
	_, ok := c.plans[slug]
	return ok
}

// Slugs returns the sorted list of known plan slugs.
func (c *PlanCatalog) Slugs() []string {
	cp := make([]string, len(c.slugs))
	copy(cp, c.slugs)
	return cp
}

// CreditCost returns the credit cost for a billable action, zero when the
// action carries no cost.
func (c *PlanCatalog) CreditCost(action string) int {
	return c.credits[action]
}
