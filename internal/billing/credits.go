package billing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/store"
)

// CreditsService moves credits through the ledger using catalog-defined costs.
type CreditsService struct {
	store  *store.Store
	plans  *catalog.PlanCatalog
	logger *slog.Logger
}

// NewCreditsService builds a credits service over the store and plan catalog.
func NewCreditsService(st *store.Store, plans *catalog.PlanCatalog, logger *slog.Logger) *CreditsService {
	return &CreditsService{
		store:  st,
		plans:  plans,
		logger: logging.NewComponentLogger(logger, "credits"),
	}
}

// Balance returns the organization's current credit balance.
func (s *CreditsService) Balance(ctx context.Context, orgID string) (int, error) {
	return s.store.CreditBalance(ctx, orgID)
}

// Grant credits an organization. Replaying an idempotency key returns the
// original entry; an empty key gets a generated one, making the grant
// non-replayable.
func (s *CreditsService) Grant(ctx context.Context, orgID string, amount int, reason, metaJSON, idempotencyKey string) (*store.LedgerEntry, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	entry, err := s.store.AppendLedgerEntry(ctx, orgID, store.EntryCredit, amount, reason, metaJSON, idempotencyKey)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "credits granted",
		logging.String(logging.FieldOrgID, orgID),
		logging.Int("amount", amount),
		logging.String("reason", reason))
	return entry, nil
}

// DebitForAction debits the catalog cost of a billable action. Actions with
// no configured cost are a no-op and return nil.
func (s *CreditsService) DebitForAction(ctx context.Context, orgID, action, idempotencyKey string) (*store.LedgerEntry, error) {
	cost := s.plans.CreditCost(action)
	if cost <= 0 {
		return nil, nil
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	entry, err := s.store.AppendLedgerEntry(ctx, orgID, store.EntryDebit, cost, action, "", idempotencyKey)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "credits debited",
		logging.String(logging.FieldOrgID, orgID),
		logging.String("action", action),
		logging.Int("amount", cost))
	return entry, nil
}

// History returns the organization's ledger, newest first.
func (s *CreditsService) History(ctx context.Context, orgID string, limit int) ([]store.LedgerEntry, error) {
	return s.store.ListLedgerEntries(ctx, orgID, limit)
}
