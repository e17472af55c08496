package command

import (
	"context"
	"sync"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

type aggregateKey struct {
	productID uint32
	scope     domain.ScopeKey
}

type recomputePass struct {
	dirty bool
}

// RecomputeAggregateHandler maintains the invariant that the variant 0 row of
// a variant-bearing product equals the sum of its variant rows. Re-summing is
// idempotent, so concurrent passes are safe; overlapping requests for the
// same key coalesce into the running pass, which re-runs until no writer
// arrived during its pass.
type RecomputeAggregateHandler struct {
	repo        domain.StockRepository
	invalidator domain.CacheInvalidator

	mu      sync.Mutex
	running map[aggregateKey]*recomputePass
}

func NewRecomputeAggregateHandler(repo domain.StockRepository, invalidator domain.CacheInvalidator) *RecomputeAggregateHandler {
	return &RecomputeAggregateHandler{
		repo:        repo,
		invalidator: invalidator,
		running:     make(map[aggregateKey]*recomputePass),
	}
}

// Handle recomputes the aggregate row. No-op for products without variant
// rows: their variant 0 row is the sole record, written directly by the
// mutator. The aggregate write never records a movement; its changes are
// implied by its constituents' entries.
func (h *RecomputeAggregateHandler) Handle(ctx context.Context, productID uint32, scope domain.ScopeKey) error {
	key := aggregateKey{productID: productID, scope: scope}

	h.mu.Lock()
	if pass, ok := h.running[key]; ok {
		pass.dirty = true
		h.mu.Unlock()
		return nil
	}
	pass := &recomputePass{}
	h.running[key] = pass
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.running, key)
		h.mu.Unlock()
	}()

	for {
		if err := h.recomputeOnce(ctx, productID, scope); err != nil {
			h.mu.Lock()
			pending := pass.dirty
			h.mu.Unlock()
			if pending {
				logger.WithContext(ctx).Warn().
					Err(err).
					Uint32("product_id", productID).
					Str("scope", scope.String()).
					Msg("Aggregate recompute failed with a coalesced request pending; aggregate stays stale until the next variant write")
			}
			return err
		}

		h.mu.Lock()
		if !pass.dirty {
			h.mu.Unlock()
			return nil
		}
		pass.dirty = false
		h.mu.Unlock()
	}
}

func (h *RecomputeAggregateHandler) recomputeOnce(ctx context.Context, productID uint32, scope domain.ScopeKey) error {
	sum, rows, err := h.repo.SumVariants(ctx, productID, scope)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	_, err = h.repo.Mutate(ctx, productID, 0, scope, func(int32, bool) (int32, error) {
		return sum, nil
	})
	if err != nil {
		return err
	}

	h.invalidator.Invalidate(ctx, scope.CacheKey(productID, 0))

	logger.WithContext(ctx).Debug().
		Uint32("product_id", productID).
		Str("scope", scope.String()).
		Int32("aggregate", sum).
		Int64("variant_rows", rows).
		Msg("Aggregate row recomputed")
	return nil
}
