package query

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

// GetQuantityQuery reads the current quantity for one (product, variant)
// within the caller's resolved scope. ShopID 0 means the ambient shop.
type GetQuantityQuery struct {
	ProductID uint32
	VariantID uint32
	ShopID    uint32
}

// GetQuantityHandler is the cache-first read path. A nonexistent key reads as
// 0, not an error. Cache failures degrade to storage reads; they never fail
// the query.
type GetQuantityHandler struct {
	repo     domain.StockRepository
	resolver *domain.ScopeResolver
	cache    domain.QuantityCache
}

func NewGetQuantityHandler(repo domain.StockRepository, resolver *domain.ScopeResolver, cache domain.QuantityCache) *GetQuantityHandler {
	return &GetQuantityHandler{repo: repo, resolver: resolver, cache: cache}
}

func (h *GetQuantityHandler) Handle(ctx context.Context, q GetQuantityQuery) (int32, error) {
	if q.ProductID == 0 {
		return 0, fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}

	scope, err := h.resolver.Resolve(ctx, q.ShopID)
	if err != nil {
		return 0, err
	}

	key := scope.CacheKey(q.ProductID, q.VariantID)
	if cached, ok, err := h.cache.Get(ctx, key); err != nil {
		logger.WithContext(ctx).Warn().
			Err(err).
			Str("cache_key", key).
			Msg("Cache read failed, falling back to storage")
	} else if ok {
		return cached, nil
	}

	sum, err := h.repo.SumQuantity(ctx, q.ProductID, q.VariantID, scope)
	if err != nil {
		return 0, err
	}

	if err := h.cache.Set(ctx, key, sum); err != nil {
		logger.WithContext(ctx).Warn().
			Err(err).
			Str("cache_key", key).
			Msg("Cache fill failed")
	}
	return sum, nil
}
