package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stitchsentry/internal/services"
)

// ErrInsufficientCredits is returned when a debit would drive the balance
// negative.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CreditBalance returns an organization's current balance, credits minus
// debits.
func (s *Store) CreditBalance(ctx context.Context, orgID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE entry_type WHEN 'credit' THEN amount ELSE -amount END), 0)
         FROM credits_ledger WHERE organization_id = ?`,
		orgID)
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// AppendLedgerEntry records one credits movement. Entries are idempotent on
// (organization, key): replaying a key returns the original entry without a
// second movement. Debits that would drive the balance negative fail with
// ErrInsufficientCredits.
func (s *Store) AppendLedgerEntry(ctx context.Context, orgID, entryType string, amount int, reason, metaJSON, idempotencyKey string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "ledger", "amount must be positive", nil)
	}
	if entryType != EntryCredit && entryType != EntryDebit {
		return nil, services.Wrap(services.ErrValidation, "store", "ledger", fmt.Sprintf("unknown entry type %q", entryType), nil)
	}
	if idempotencyKey == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "ledger", "idempotency key is empty", nil)
	}
	ctx = ensureContext(ctx)

	if existing, err := s.ledgerEntryByKey(ctx, orgID, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if entryType == EntryDebit {
		balance, err := s.CreditBalance(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if balance-amount < 0 {
			return nil, fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientCredits, balance, amount)
		}
	}

	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO credits_ledger (organization_id, entry_type, amount, reason, meta_json, idempotency_key, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		orgID,
		entryType,
		amount,
		nullableString(reason),
		nullableString(metaJSON),
		idempotencyKey,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		// Lost a race with a concurrent writer holding the same key.
		if isUniqueViolation(err) {
			return s.ledgerEntryByKey(ctx, orgID, idempotencyKey)
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return s.ledgerEntryByKey(ctx, orgID, idempotencyKey)
}

func (s *Store) ledgerEntryByKey(ctx context.Context, orgID, key string) (*LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, entry_type, amount, reason, meta_json, idempotency_key, created_at
         FROM credits_ledger WHERE organization_id = ? AND idempotency_key = ?`,
		orgID, key)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func scanLedgerEntry(scanner interface{ Scan(dest ...any) error }) (*LedgerEntry, error) {
	var (
		entry      LedgerEntry
		reason     sql.NullString
		metaJSON   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.OrganizationID,
		&entry.EntryType,
		&entry.Amount,
		&reason,
		&metaJSON,
		&entry.IdempotencyKey,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	entry.Reason = reason.String
	entry.MetaJSON = metaJSON.String
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	return &entry, nil
}

// ListLedgerEntries returns an organization's ledger, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, orgID string, limit int) ([]LedgerEntry, error) {
	query := `SELECT id, organization_id, entry_type, amount, reason, meta_json, idempotency_key, created_at
         FROM credits_ledger WHERE organization_id = ? ORDER BY id DESC`
	args := []any{orgID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
