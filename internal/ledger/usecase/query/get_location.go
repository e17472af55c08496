package query

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

type GetLocationQuery struct {
	ProductID uint32
	VariantID uint32
	ShopID    uint32
}

// GetLocationHandler is a direct point lookup; location reads are low volume
// and bypass the cache.
type GetLocationHandler struct {
	repo     domain.StockRepository
	resolver *domain.ScopeResolver
}

func NewGetLocationHandler(repo domain.StockRepository, resolver *domain.ScopeResolver) *GetLocationHandler {
	return &GetLocationHandler{repo: repo, resolver: resolver}
}

func (h *GetLocationHandler) Handle(ctx context.Context, q GetLocationQuery) (string, bool, error) {
	if q.ProductID == 0 {
		return "", false, fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}

	scope, err := h.resolver.Resolve(ctx, q.ShopID)
	if err != nil {
		return "", false, err
	}
	return h.repo.GetLocation(ctx, q.ProductID, q.VariantID, scope)
}
