package query

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

// EffectivePolicyQuery resolves the backorder policy in force for a key.
type EffectivePolicyQuery struct {
	ProductID uint32
	VariantID uint32
	ShopID    uint32
}

// EffectivePolicyHandler resolves a record's policy, deferring to the global
// default when the record says so or does not exist. The result is always
// Deny or Allow, never UseGlobalDefault.
type EffectivePolicyHandler struct {
	repo     domain.StockRepository
	resolver *domain.ScopeResolver
	config   domain.ConfigStore
}

func NewEffectivePolicyHandler(repo domain.StockRepository, resolver *domain.ScopeResolver, config domain.ConfigStore) *EffectivePolicyHandler {
	return &EffectivePolicyHandler{repo: repo, resolver: resolver, config: config}
}

func (h *EffectivePolicyHandler) Handle(ctx context.Context, q EffectivePolicyQuery) (domain.OutOfStockPolicy, error) {
	if q.ProductID == 0 {
		return domain.PolicyDeny, fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}

	scope, err := h.resolver.Resolve(ctx, q.ShopID)
	if err != nil {
		return domain.PolicyDeny, err
	}

	rec, err := h.repo.Find(ctx, q.ProductID, q.VariantID, scope)
	if err != nil {
		return domain.PolicyDeny, err
	}

	policy := domain.PolicyUseGlobalDefault
	if rec != nil {
		policy = rec.OutOfStock
	}
	if policy == domain.PolicyUseGlobalDefault {
		policy = h.config.GlobalOutOfStockPolicy(ctx)
	}
	return policy, nil
}
