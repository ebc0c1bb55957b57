package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a QA run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status ends a run's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage identifies one step of the QA pipeline. Stages execute in a fixed
// order; each carries the progress percentage reported on completion.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageParse   Stage = "parse"
	StageRender  Stage = "render"
	StageRuleQA  Stage = "rule_qa"
	StageSummary Stage = "summary"
	StageExport  Stage = "export"
)

var stageOrder = []Stage{StageIngest, StageParse, StageRender, StageRuleQA, StageSummary, StageExport}

var stageProgress = map[Stage]int{
	StageIngest:  10,
	StageParse:   30,
	StageRender:  55,
	StageRuleQA:  75,
	StageSummary: 90,
	StageExport:  100,
}

// Stages returns the ordered pipeline stages.
func Stages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stageProgress[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// Progress returns the percentage reported when the stage completes.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Before reports whether s executes earlier than other in the pipeline order.
func (s Stage) Before(other Stage) bool {
	return stageIndex(s) < stageIndex(other)
}

func stageIndex(s Stage) int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the stage following s, or false when s is the last stage.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// StagesFrom returns s and every stage after it, in execution order.
func StagesFrom(s Stage) []Stage {
	for i, stage := range stageOrder {
		if stage == s {
			cp := make([]Stage, len(stageOrder)-i)
			copy(cp, stageOrder[i:])
			return cp
		}
	}
	return nil
}

// Organization is a tenant. PlanSlug is the stored fallback used when no
// subscription or price mapping resolves.
type Organization struct {
	ID        string
	Name      string
	PlanSlug  string
	CreatedAt time.Time
}

// Subscription mirrors the billing provider's view of an organization.
type Subscription struct {
	ID             int64
	OrganizationID string
	Name           string
	Status         string
	PriceID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubscriptionStatusActive is the only status that makes a subscription count
// toward plan resolution.
const SubscriptionStatusActive = "active"

// DesignFile is an uploaded embroidery file awaiting or under QA.
type DesignFile struct {
	ID             int64
	OrganizationID string
	Disk           string
	Path           string
	OriginalName   string
	Format         string
	SizeBytes      int64
	ChecksumSHA256 string
	CreatedAt      time.Time
}

// Run is one QA run over a design file.
type Run struct {
	ID              int64
	OrganizationID  string
	DesignFileID    int64
	ActorID         string
	PresetSlug      string
	PlanSlug        string
	Status          Status
	Stage           Stage
	ProgressPercent int
	ProgressMessage string
	Score           *int
	RiskLevel       string
	SummaryJSON     string
	ErrorCode       string
	ErrorMessage    string
	SupportID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	LastHeartbeat   *time.Time
}

// SetProgress advances the run's stage and progress. Progress never moves
// backwards.
func (r *Run) SetProgress(stage Stage, message string, percent int) {
	r.Stage = stage
	r.ProgressMessage = message
	if percent > r.ProgressPercent {
		r.ProgressPercent = percent
	}
}

// SetFailed marks the run failed with a stable error code and a support id
// callers can quote.
func (r *Run) SetFailed(code, message, supportID string) {
	r.Status = StatusFailed
	r.ErrorCode = code
	r.ErrorMessage = message
	r.SupportID = supportID
	r.ProgressMessage = message
	r.LastHeartbeat = nil
}

// Finding is one rule evaluation result attached to a run.
type Finding struct {
	ID           int64
	RunID        int64
	RuleKey      string
	Severity     string
	Title        string
	Detail       string
	EvidenceJSON string
	CreatedAt    time.Time
}

// Finding severities, ordered worst first for presentation.
const (
	SeverityFail = "fail"
	SeverityWarn = "warn"
	SeverityPass = "pass"
)

// Artifact is a file produced by a run stage, such as a preview render or an
// exported report.
type Artifact struct {
	ID        int64
	RunID     int64
	Kind      string
	Disk      string
	Path      string
	MetaJSON  string
	CreatedAt time.Time
}

// Ledger entry types. The ledger is append-only; balances are computed by
// summing credits minus debits.
const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
)

// LedgerEntry is one immutable credits movement for an organization.
type LedgerEntry struct {
	ID             int64
	OrganizationID string
	EntryType      string
	Amount         int
	Reason         string
	MetaJSON       string
	IdempotencyKey string
	CreatedAt      time.Time
}
