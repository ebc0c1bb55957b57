package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOrganization inserts a tenant. PlanSlug is the stored fallback plan
// and may be empty.
func (s *Store) CreateOrganization(ctx context.Context, id, name, planSlug string) (*Organization, error) {
	if id == "" {
		return nil, errors.New("organization id is empty")
	}
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO organizations (id, name, plan_slug, created_at) VALUES (?, ?, ?, ?)`,
		id,
		name,
		nullableString(planSlug),
		now.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert organization: %w", err)
	}
	return s.GetOrganization(ctx, id)
}

// GetOrganization fetches a tenant by id. Returns nil when absent.
func (s *Store) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, plan_slug, created_at FROM organizations WHERE id = ?`, id)

	var (
		org        Organization
		planSlug   sql.NullString
		createdRaw string
	)
	err := row.Scan(&org.ID, &org.Name, &planSlug, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	org.PlanSlug = planSlug.String
	if created, err := parseTimeString(createdRaw); err == nil {
		org.CreatedAt = created
	}
	return &org, nil
}

// SetOrganizationPlan updates the stored fallback plan slug.
func (s *Store) SetOrganizationPlan(ctx context.Context, id, planSlug string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE organizations SET plan_slug = ? WHERE id = ?`,
		nullableString(planSlug),
		id,
	); err != nil {
		return fmt.Errorf("set organization plan: %w", err)
	}
	return nil
}

// UpsertSubscription records the billing provider's current view of a named
// subscription for an organization.
func (s *Store) UpsertSubscription(ctx context.Context, orgID, name, status, priceID string) (*Subscription, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO subscriptions (organization_id, name, status, price_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (organization_id, name)
         DO UPDATE SET status = excluded.status, price_id = excluded.price_id, updated_at = excluded.updated_at`,
		orgID,
		name,
		status,
		nullableString(priceID),
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return s.Subscription(ctx, orgID, name)
}

// Subscription fetches a named subscription for an organization. Returns nil
// when absent.
func (s *Store) Subscription(ctx context.Context, orgID, name string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, status, price_id, created_at, updated_at
         FROM subscriptions WHERE organization_id = ? AND name = ?`,
		orgID, name)

	var (
		sub        Subscription
		priceID    sql.NullString
		createdRaw string
		updatedRaw string
	)
	err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.Name, &sub.Status, &priceID, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	sub.PriceID = priceID.String
	if created, err := parseTimeString(createdRaw); err == nil {
		sub.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		sub.UpdatedAt = updated
	}
	return &sub, nil
}

// CreateDesignFile records an uploaded design file.
func (s *Store) CreateDesignFile(ctx context.Context, file *DesignFile) (*DesignFile, error) {
	if file == nil {
		return nil, errors.New("design file is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO design_files (
            organization_id, disk, path, original_name, format, size_bytes, checksum_sha256, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		file.OrganizationID,
		file.Disk,
		file.Path,
		nullableString(file.OriginalName),
		nullableString(file.Format),
		file.SizeBytes,
		nullableString(file.ChecksumSHA256),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert design file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetDesignFile(ctx, id)
}

const designFileColumns = "id, organization_id, disk, path, original_name, format, size_bytes, checksum_sha256, created_at"

func scanDesignFile(scanner interface{ Scan(dest ...any) error }) (*DesignFile, error) {
	var (
		file       DesignFile
		name       sql.NullString
		format     sql.NullString
		checksum   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&file.ID,
		&file.OrganizationID,
		&file.Disk,
		&file.Path,
		&name,
		&format,
		&file.SizeBytes,
		&checksum,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	file.OriginalName = name.String
	file.Format = format.String
	file.ChecksumSHA256 = checksum.String
	if created, err := parseTimeString(createdRaw); err == nil {
		file.CreatedAt = created
	}
	return &file, nil
}

// GetDesignFile fetches a design file by id. Returns nil when absent.
func (s *Store) GetDesignFile(ctx context.Context, id int64) (*DesignFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+designFileColumns+` FROM design_files WHERE id = ?`, id)
	file, err := scanDesignFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get design file: %w", err)
	}
	return file, nil
}

// FindDesignFileByChecksum returns the newest design file matching a checksum
// within an organization, or nil.
func (s *Store) FindDesignFileByChecksum(ctx context.Context, orgID, checksum string) (*DesignFile, error) {
	if checksum == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+designFileColumns+` FROM design_files
         WHERE organization_id = ? AND checksum_sha256 = ? ORDER BY id DESC LIMIT 1`,
		orgID, checksum)
	file, err := scanDesignFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find design file by checksum: %w", err)
	}
	return file, nil
}
