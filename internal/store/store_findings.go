package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReplaceFindings deletes any previous findings for the run and inserts the
// supplied set in one transaction. Re-running a stage after a reclaim must
// not duplicate findings.
func (s *Store) ReplaceFindings(ctx context.Context, runID int64, findings []Finding) error {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM qa_findings WHERE qa_run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear findings: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, finding := range findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO qa_findings (qa_run_id, rule_key, severity, title, detail, evidence_json, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID,
			finding.RuleKey,
			finding.Severity,
			finding.Title,
			nullableString(finding.Detail),
			nullableString(finding.EvidenceJSON),
			now,
		); err != nil {
			return fmt.Errorf("insert finding %q: %w", finding.RuleKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit findings: %w", err)
	}
	return nil
}

// ListFindings returns a run's findings ordered worst severity first, then by
// rule key.
func (s *Store) ListFindings(ctx context.Context, runID int64) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, qa_run_id, rule_key, severity, title, detail, evidence_json, created_at
         FROM qa_findings WHERE qa_run_id = ?
         ORDER BY CASE severity WHEN 'fail' THEN 0 WHEN 'warn' THEN 1 ELSE 2 END, rule_key`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var (
			finding    Finding
			detail     sql.NullString
			evidence   sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&finding.ID,
			&finding.RunID,
			&finding.RuleKey,
			&finding.Severity,
			&finding.Title,
			&detail,
			&evidence,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		finding.Detail = detail.String
		finding.EvidenceJSON = evidence.String
		if created, err := parseTimeString(createdRaw); err == nil {
			finding.CreatedAt = created
		}
		findings = append(findings, finding)
	}
	return findings, rows.Err()
}

// CreateArtifact records a file produced by a run stage.
func (s *Store) CreateArtifact(ctx context.Context, artifact *Artifact) (*Artifact, error) {
	if artifact == nil {
		return nil, errors.New("artifact is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO qa_artifacts (qa_run_id, kind, disk, path, meta_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.RunID,
		artifact.Kind,
		artifact.Disk,
		artifact.Path,
		nullableString(artifact.MetaJSON),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	artifact.ID = id
	artifact.CreatedAt = now
	return artifact, nil
}

// ReplaceArtifact records an artifact, removing any previous artifact of the
// same kind for the run. Re-running a stage after a reclaim must not
// accumulate artifact rows.
func (s *Store) ReplaceArtifact(ctx context.Context, artifact *Artifact) (*Artifact, error) {
	if artifact == nil {
		return nil, errors.New("artifact is nil")
	}
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin artifact tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM qa_artifacts WHERE qa_run_id = ? AND kind = ?`,
		artifact.RunID, artifact.Kind); err != nil {
		return nil, fmt.Errorf("clear artifact %q: %w", artifact.Kind, err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO qa_artifacts (qa_run_id, kind, disk, path, meta_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.RunID,
		artifact.Kind,
		artifact.Disk,
		artifact.Path,
		nullableString(artifact.MetaJSON),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit artifact: %w", err)
	}
	artifact.ID = id
	artifact.CreatedAt = now
	return artifact, nil
}

// ListArtifacts returns a run's artifacts in creation order.
func (s *Store) ListArtifacts(ctx context.Context, runID int64) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, qa_run_id, kind, disk, path, meta_json, created_at
         FROM qa_artifacts WHERE qa_run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var (
			artifact   Artifact
			meta       sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&artifact.ID,
			&artifact.RunID,
			&artifact.Kind,
			&artifact.Disk,
			&artifact.Path,
			&meta,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		artifact.MetaJSON = meta.String
		if created, err := parseTimeString(createdRaw); err == nil {
			artifact.CreatedAt = created
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}
