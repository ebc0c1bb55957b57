package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/store"
)

const defaultListLimit = 50

func (h *Handler) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	var req quotaCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.OrganizationID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id is required")
		return
	}

	ctx := r.Context()
	plan := h.resolver.Resolve(ctx, req.OrganizationID)

	decision := billing.Decision{Allowed: true}
	if req.Preset != "" {
		decision = h.gate.CheckPreset(plan, req.Preset)
	}
	if decision.Allowed && req.SizeBytes > 0 {
		decision = h.gate.CheckFileSize(plan, req.SizeBytes)
	}
	if decision.Allowed {
		var err error
		decision, err = h.gate.CanStartRunToday(ctx, req.OrganizationID, plan)
		if err != nil {
			h.logger.ErrorContext(ctx, "quota check failed", logging.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "quota check failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, quotaCheckResponse{
		OK:               decision.Allowed,
		Code:             decision.Code,
		Message:          decision.Message,
		Plan:             plan.Slug,
		MaxDailyQaRuns:   plan.Limits.DailyQaRuns,
		MaxFileSizeBytes: billing.MaxFileSizeBytes(plan),
	})
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.OrganizationID == "" || req.Preset == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id and preset are required")
		return
	}
	if req.File.Path == "" || req.File.SizeBytes <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "file path and size_bytes are required")
		return
	}
	if !h.presets.Known(req.Preset) {
		writeError(w, http.StatusUnprocessableEntity, "invalid_preset", "unknown preset "+req.Preset)
		return
	}

	ctx := r.Context()
	org, err := h.store.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		h.logger.ErrorContext(ctx, "load organization failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load organization")
		return
	}
	if org == nil {
		writeError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}

	plan := h.resolver.Resolve(ctx, req.OrganizationID)
	decision, err := h.gate.CheckRunStart(ctx, req.OrganizationID, plan, req.Preset, req.File.SizeBytes)
	if err != nil {
		h.logger.ErrorContext(ctx, "gate check failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "gate check failed")
		return
	}
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, decision.Code, decision.Message)
		return
	}

	file, err := h.findOrCreateDesignFile(r, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "record design file failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record design file")
		return
	}

	run, err := h.store.CreateRun(ctx, req.OrganizationID, file.ID, req.ActorID, req.Preset, plan.Slug)
	if err != nil {
		h.logger.ErrorContext(ctx, "create run failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create run")
		return
	}

	writeJSON(w, http.StatusCreated, newRunView(run))
}

// findOrCreateDesignFile reuses an identical earlier upload when the checksum
// matches, otherwise records a new design file.
func (h *Handler) findOrCreateDesignFile(r *http.Request, req createRunRequest) (*store.DesignFile, error) {
	ctx := r.Context()
	if req.File.ChecksumSHA256 != "" {
		existing, err := h.store.FindDesignFileByChecksum(ctx, req.OrganizationID, req.File.ChecksumSHA256)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.SizeBytes == req.File.SizeBytes {
			return existing, nil
		}
	}
	disk := req.File.Disk
	if disk == "" {
		disk = "local"
	}
	return h.store.CreateDesignFile(ctx, &store.DesignFile{
		OrganizationID: req.OrganizationID,
		Disk:           disk,
		Path:           req.File.Path,
		OriginalName:   req.File.OriginalName,
		Format:         strings.ToLower(req.File.Format),
		SizeBytes:      req.File.SizeBytes,
		ChecksumSHA256: req.File.ChecksumSHA256,
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "org_id is required")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.store.ListRuns(r.Context(), orgID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list runs")
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func (h *Handler) runFromPath(w http.ResponseWriter, r *http.Request) *store.Run {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "run id must be a positive integer")
		return nil
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load run failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load run")
		return nil
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return nil
	}
	return run
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := h.runFromPath(w, r)
	if run == nil {
		return
	}
	artifacts, err := h.store.ListArtifacts(r.Context(), run.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list artifacts failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load artifacts")
		return
	}
	artifactViews := make([]artifactView, 0, len(artifacts))
	for _, artifact := range artifacts {
		artifactViews = append(artifactViews, artifactView{
			Kind:      artifact.Kind,
			Disk:      artifact.Disk,
			Path:      artifact.Path,
			CreatedAt: artifact.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": newRunView(run), "artifacts": artifactViews})
}

func (h *Handler) handleRunFindings(w http.ResponseWriter, r *http.Request) {
	run := h.runFromPath(w, r)
	if run == nil {
		return
	}
	findings, err := h.store.ListFindings(r.Context(), run.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list findings failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load findings")
		return
	}
	views := make([]findingView, 0, len(findings))
	for _, finding := range findings {
		views = append(views, newFindingView(finding))
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": views})
}
