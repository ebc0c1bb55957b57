package api

import (
	"encoding/json"
	"net/http"
	"time"

	"stitchsentry/internal/store"
)

// errorBody is the JSON error envelope returned by every handler.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// quotaCheckRequest asks whether an organization may start a run.
type quotaCheckRequest struct {
	OrganizationID string `json:"org_id"`
	Preset         string `json:"preset"`
	SizeBytes      int64  `json:"size_bytes"`
}

// quotaCheckResponse reports the gate decision plus the resolved plan's
// limits so clients can display them.
type quotaCheckResponse struct {
	OK               bool   `json:"ok"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
	Plan             string `json:"plan"`
	MaxDailyQaRuns   int    `json:"max_daily_qa_runs"`
	MaxFileSizeBytes int64  `json:"max_file_size_bytes"`
}

// createRunRequest registers a design file and enqueues a QA run for it.
type createRunRequest struct {
	OrganizationID string        `json:"org_id"`
	ActorID        string        `json:"actor_id"`
	Preset         string        `json:"preset"`
	File           designFileDoc `json:"file"`
}

type designFileDoc struct {
	Disk           string `json:"disk"`
	Path           string `json:"path"`
	OriginalName   string `json:"original_name"`
	Format         string `json:"format"`
	SizeBytes      int64  `json:"size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`
}

// runView is the JSON shape of a QA run.
type runView struct {
	ID              int64      `json:"id"`
	OrganizationID  string     `json:"org_id"`
	DesignFileID    int64      `json:"design_file_id"`
	ActorID         string     `json:"actor_id"`
	Preset          string     `json:"preset"`
	Plan            string     `json:"plan"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage"`
	ProgressPercent int        `json:"progress_percent"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Score           *int       `json:"score,omitempty"`
	RiskLevel       string     `json:"risk_level,omitempty"`
	Summary         any        `json:"summary,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	SupportID       string     `json:"support_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

type findingView struct {
	RuleKey  string `json:"rule_key"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Evidence any    `json:"evidence,omitempty"`
}

type artifactView struct {
	Kind      string    `json:"kind"`
	Disk      string    `json:"disk"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

type ledgerEntryView struct {
	EntryType      string    `json:"entry_type"`
	Amount         int       `json:"amount"`
	Reason         string    `json:"reason"`
	Meta           any       `json:"meta,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// creditRequest grants credits. The idempotency key is optional; a missing
// key makes the grant non-replayable.
type creditRequest struct {
	OrganizationID string          `json:"org_id"`
	Amount         int             `json:"amount"`
	Reason         string          `json:"reason"`
	Meta           json.RawMessage `json:"meta,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type debitRequest struct {
	OrganizationID string `json:"org_id"`
	Action         string `json:"action"`
	IdempotencyKey string `json:"idempotency_key"`
}

func newRunView(run *store.Run) runView {
	view := runView{
		ID:              run.ID,
		OrganizationID:  run.OrganizationID,
		DesignFileID:    run.DesignFileID,
		ActorID:         run.ActorID,
		Preset:          run.PresetSlug,
		Plan:            run.PlanSlug,
		Status:          string(run.Status),
		Stage:           string(run.Stage),
		ProgressPercent: run.ProgressPercent,
		ProgressMessage: run.ProgressMessage,
		Score:           run.Score,
		RiskLevel:       run.RiskLevel,
		ErrorCode:       run.ErrorCode,
		ErrorMessage:    run.ErrorMessage,
		SupportID:       run.SupportID,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
	}
	if run.SummaryJSON != "" {
		var summary any
		if err := json.Unmarshal([]byte(run.SummaryJSON), &summary); err == nil {
			view.Summary = summary
		}
	}
	return view
}

func newLedgerEntryView(entry *store.LedgerEntry) ledgerEntryView {
	view := ledgerEntryView{
		EntryType:      entry.EntryType,
		Amount:         entry.Amount,
		Reason:         entry.Reason,
		IdempotencyKey: entry.IdempotencyKey,
		CreatedAt:      entry.CreatedAt,
	}
	if entry.MetaJSON != "" {
		var meta any
		if err := json.Unmarshal([]byte(entry.MetaJSON), &meta); err == nil {
			view.Meta = meta
		}
	}
	return view
}

func newFindingView(finding store.Finding) findingView {
	view := findingView{
		RuleKey:  finding.RuleKey,
		Severity: finding.Severity,
		Title:    finding.Title,
		Detail:   finding.Detail,
	}
	if finding.EvidenceJSON != "" {
		var evidence any
		if err := json.Unmarshal([]byte(finding.EvidenceJSON), &evidence); err == nil {
			view.Evidence = evidence
		}
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
