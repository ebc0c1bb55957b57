package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, organization_id, design_file_id, actor_id, preset_slug, plan_slug, status, stage, progress_percent, progress_message, score, risk_level, summary_json, error_code, error_message, support_id, created_at, updated_at, started_at, finished_at, last_heartbeat"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		actorID      sql.NullString
		statusStr    string
		stageStr     string
		progressMsg  sql.NullString
		score        sql.NullInt64
		riskLevel    sql.NullString
		summaryJSON  sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
		supportID    sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.OrganizationID,
		&run.DesignFileID,
		&actorID,
		&run.PresetSlug,
		&run.PlanSlug,
		&statusStr,
		&stageStr,
		&run.ProgressPercent,
		&progressMsg,
		&score,
		&riskLevel,
		&summaryJSON,
		&errorCode,
		&errorMessage,
		&supportID,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	run.ActorID = actorID.String
	run.Status = Status(statusStr)
	run.Stage = Stage(stageStr)
	run.ProgressMessage = progressMsg.String
	if score.Valid {
		v := int(score.Int64)
		run.Score = &v
	}
	run.RiskLevel = riskLevel.String
	run.SummaryJSON = summaryJSON.String
	run.ErrorCode = errorCode.String
	run.ErrorMessage = errorMessage.String
	run.SupportID = supportID.String

	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			run.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			run.LastHeartbeat = &heartbeat
		}
	}
	return &run, nil
}

// CreateRun enqueues a new QA run in the queued state at the first stage.
func (s *Store) CreateRun(ctx context.Context, orgID string, designFileID int64, actorID, presetSlug, planSlug string) (*Run, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO qa_runs (
            organization_id, design_file_id, actor_id, preset_slug, plan_slug,
            status, stage, progress_percent, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		orgID,
		designFileID,
		nullableString(actorID),
		presetSlug,
		planSlug,
		StatusQueued,
		StageIngest,
		0.0,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches a run by identifier. Returns nil when absent.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM qa_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE qa_runs
         SET status = ?, stage = ?, progress_percent = ?, progress_message = ?,
             score = ?, risk_level = ?, summary_json = ?,
             error_code = ?, error_message = ?, support_id = ?,
             updated_at = ?, started_at = ?, finished_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		run.Status,
		run.Stage,
		run.ProgressPercent,
		nullableString(run.ProgressMessage),
		nullableInt(run.Score),
		nullableString(run.RiskLevel),
		nullableString(run.SummaryJSON),
		nullableString(run.ErrorCode),
		nullableString(run.ErrorMessage),
		nullableString(run.SupportID),
		run.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(run.StartedAt),
		nullableTime(run.FinishedAt),
		nullableTime(run.LastHeartbeat),
		run.ID,
	); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ClaimNextQueued atomically transitions the oldest queued run to running and
// returns it. Returns nil when the queue is empty. The conditional update
// makes the claim safe across concurrent workers.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Run, error) {
	ctx = ensureContext(ctx)
	for {
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM qa_runs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
			StatusQueued)
		var id int64
		err := row.Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select queued run: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE qa_runs
             SET status = ?, started_at = COALESCE(started_at, ?), last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusRunning,
			now,
			now,
			now,
			id,
			StatusQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker claimed it first; look for the next one.
			continue
		}
		return s.GetRun(ctx, id)
	}
}

// UpdateHeartbeat records liveness for an in-flight run.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE qa_runs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleRunning returns running runs whose heartbeat expired back to the
// queue so another worker can pick them up.
func (s *Store) ReclaimStaleRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE qa_runs
         SET status = ?, last_heartbeat = NULL, progress_message = 'Reclaimed after stale heartbeat', updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusQueued,
		now,
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale runs: %w", err)
	}
	return res.RowsAffected()
}

// ListRuns returns an organization's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, orgID string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM qa_runs WHERE organization_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{orgID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunsByStatus returns runs matching a status ordered by creation time.
func (s *Store) RunsByStatus(ctx context.Context, status Status) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM qa_runs WHERE status = ? ORDER BY created_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRunsCreatedBetween counts an organization's runs created in the
// half-open interval [from, to). Used to enforce daily quotas.
func (s *Store) CountRunsCreatedBetween(ctx context.Context, orgID string, from, to time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM qa_runs
         WHERE organization_id = ? AND created_at >= ? AND created_at < ?`,
		orgID,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}
