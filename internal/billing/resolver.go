package billing

import (
	"context"
	"log/slog"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/config"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/store"
)

// PlanResolver maps an organization to its effective plan. Precedence: an
// active subscription whose price id maps to a known plan, then the
// organization's stored plan slug, then the free plan.
type PlanResolver struct {
	store        *store.Store
	plans        *catalog.PlanCatalog
	subscription string
	priceToSlug  map[string]string
	logger       *slog.Logger
}

// NewPlanResolver builds a resolver from the billing configuration. The price
// map in the config is keyed by plan slug; the resolver inverts it so price
// ids from the provider look up slugs directly.
func NewPlanResolver(st *store.Store, plans *catalog.PlanCatalog, cfg *config.Config, logger *slog.Logger) *PlanResolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	priceToSlug := make(map[string]string, len(cfg.Billing.Prices))
	for slug, priceID := range cfg.Billing.Prices {
		if priceID != "" {
			priceToSlug[priceID] = slug
		}
	}
	return &PlanResolver{
		store:        st,
		plans:        plans,
		subscription: cfg.Billing.SubscriptionName,
		priceToSlug:  priceToSlug,
		logger:       logging.NewComponentLogger(logger, "billing"),
	}
}

// Resolve returns the effective plan for an organization. Lookup failures and
// unknown slugs degrade to the free plan; they never fail the caller.
func (r *PlanResolver) Resolve(ctx context.Context, orgID string) catalog.Plan {
	org, err := r.store.GetOrganization(ctx, orgID)
	if err != nil {
		r.logger.WarnContext(ctx, "plan resolution fell back to free",
			logging.String(logging.FieldOrgID, orgID), logging.Error(err))
		return r.freePlan()
	}
	if org == nil {
		return r.freePlan()
	}

	sub, err := r.store.Subscription(ctx, orgID, r.subscription)
	if err != nil {
		r.logger.WarnContext(ctx, "subscription lookup failed",
			logging.String(logging.FieldOrgID, orgID), logging.Error(err))
	}
	if sub != nil && sub.Status == store.SubscriptionStatusActive && sub.PriceID != "" {
		if slug, ok := r.priceToSlug[sub.PriceID]; ok {
			if plan, ok := r.plans.Get(slug); ok {
				return plan
			}
			r.logger.WarnContext(ctx, "price maps to unknown plan",
				logging.String(logging.FieldOrgID, orgID), logging.String("plan_slug", slug))
		}
	}

	if org.PlanSlug != "" {
		if plan, ok := r.plans.Get(org.PlanSlug); ok {
			return plan
		}
		r.logger.WarnContext(ctx, "stored plan slug unknown",
			logging.String(logging.FieldOrgID, orgID), logging.String("plan_slug", org.PlanSlug))
	}

	return r.freePlan()
}

func (r *PlanResolver) freePlan() catalog.Plan {
	plan, ok := r.plans.Get(catalog.DefaultPlanSlug)
	if !ok {
		// LoadPlans guarantees the free plan exists; this path only covers a
		// hand-built catalog in tests.
		return catalog.Plan{Slug: catalog.DefaultPlanSlug}
	}
	return plan
}
