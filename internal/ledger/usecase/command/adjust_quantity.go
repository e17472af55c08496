package command

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

// AdjustQuantityCommand applies a signed delta to the quantity of one
// (product, variant) within the caller's resolved scope. ShopID 0 means the
// ambient shop context.
type AdjustQuantityCommand struct {
	ProductID      uint32
	VariantID      uint32
	Delta          int32
	ShopID         uint32
	RecordMovement bool
	OrderRef       string
}

// AdjustQuantityHandler handles relative quantity adjustments.
type AdjustQuantityHandler struct {
	repo     domain.StockRepository
	resolver *domain.ScopeResolver
	bounds   domain.QuantityBounds
	effects  *sideEffects
}

func NewAdjustQuantityHandler(
	repo domain.StockRepository,
	movements domain.MovementRepository,
	resolver *domain.ScopeResolver,
	invalidator domain.CacheInvalidator,
	recompute *RecomputeAggregateHandler,
	notifier domain.Notifier,
	bounds domain.QuantityBounds,
) *AdjustQuantityHandler {
	return &AdjustQuantityHandler{
		repo:     repo,
		resolver: resolver,
		bounds:   bounds,
		effects: &sideEffects{
			movements:   movements,
			invalidator: invalidator,
			recompute:   recompute,
			notifier:    notifier,
		},
	}
}

// Handle executes the adjustment as one atomic read-modify-write; a plain
// read-then-write would lose updates under concurrent adjustments to the
// same key.
func (h *AdjustQuantityHandler) Handle(ctx context.Context, cmd AdjustQuantityCommand) error {
	if cmd.ProductID == 0 {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}

	scope, err := h.resolver.Resolve(ctx, cmd.ShopID)
	if err != nil {
		return err
	}

	if err := guardAggregateRow(ctx, h.repo, cmd.ProductID, cmd.VariantID, scope); err != nil {
		return err
	}

	if cmd.Delta == 0 {
		return nil
	}

	bounds := h.bounds
	m, err := mutateWithRetry(ctx, h.repo, cmd.ProductID, cmd.VariantID, scope, func(current int32, _ bool) (int32, error) {
		next := int64(current) + int64(cmd.Delta)
		if !bounds.Contains(next) {
			return 0, fmt.Errorf("%w: %d is outside [%d, %d]", domain.ErrRangeViolation, next, bounds.Min, bounds.Max)
		}
		return int32(next), nil
	})
	if err != nil {
		return err
	}

	logger.WithContext(ctx).Debug().
		Uint32("product_id", cmd.ProductID).
		Uint32("variant_id", cmd.VariantID).
		Str("scope", scope.String()).
		Int32("delta", cmd.Delta).
		Int32("quantity", m.New).
		Msg("Stock adjusted")

	return h.effects.apply(ctx, cmd.ProductID, cmd.VariantID, h.resolver.EffectiveShop(cmd.ShopID), scope, m, cmd.RecordMovement, cmd.OrderRef)
}
