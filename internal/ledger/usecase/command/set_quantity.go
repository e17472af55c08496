package command

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

// SetQuantityCommand writes an absolute quantity. Location and Policy are
// optional companion updates applied to the same row when supplied.
type SetQuantityCommand struct {
	ProductID      uint32
	VariantID      uint32
	Quantity       int32
	ShopID         uint32
	RecordMovement bool
	OrderRef       string
	Location       *string
	Policy         *domain.OutOfStockPolicy
}

// SetQuantityHandler handles absolute quantity writes. The implicit delta
// (new minus current) is computed inside the same atomic unit as the write
// and is what lands in the movement ledger.
type SetQuantityHandler struct {
	repo     domain.StockRepository
	resolver *domain.ScopeResolver
	bounds   domain.QuantityBounds
	effects  *sideEffects
}

func NewSetQuantityHandler(
	repo domain.StockRepository,
	movements domain.MovementRepository,
	resolver *domain.ScopeResolver,
	invalidator domain.CacheInvalidator,
	recompute *RecomputeAggregateHandler,
	notifier domain.Notifier,
	bounds domain.QuantityBounds,
) *SetQuantityHandler {
	return &SetQuantityHandler{
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

func (h *SetQuantityHandler) Handle(ctx context.Context, cmd SetQuantityCommand) error {
	if cmd.ProductID == 0 {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}
	if cmd.Policy != nil && !cmd.Policy.Valid() {
		return fmt.Errorf("%w: out-of-stock policy %d", domain.ErrInvalidIdentifier, *cmd.Policy)
	}
	if !h.bounds.Contains(int64(cmd.Quantity)) {
		return fmt.Errorf("%w: %d is outside [%d, %d]", domain.ErrRangeViolation, cmd.Quantity, h.bounds.Min, h.bounds.Max)
	}

	scope, err := h.resolver.Resolve(ctx, cmd.ShopID)
	if err != nil {
		return err
	}

	if err := guardAggregateRow(ctx, h.repo, cmd.ProductID, cmd.VariantID, scope); err != nil {
		return err
	}

	m, err := mutateWithRetry(ctx, h.repo, cmd.ProductID, cmd.VariantID, scope, func(int32, bool) (int32, error) {
		return cmd.Quantity, nil
	})
	if err != nil {
		return err
	}

	if cmd.Location != nil {
		if err := h.repo.SetLocation(ctx, cmd.ProductID, cmd.VariantID, scope, *cmd.Location); err != nil {
			return err
		}
	}
	if cmd.Policy != nil {
		if err := h.repo.UpdatePolicy(ctx, cmd.ProductID, cmd.VariantID, scope, *cmd.Policy); err != nil {
			return err
		}
	}

	logger.WithContext(ctx).Debug().
		Uint32("product_id", cmd.ProductID).
		Uint32("variant_id", cmd.VariantID).
		Str("scope", scope.String()).
		Int32("quantity", m.New).
		Int32("implicit_delta", m.Delta()).
		Msg("Stock quantity set")

	return h.effects.apply(ctx, cmd.ProductID, cmd.VariantID, h.resolver.EffectiveShop(cmd.ShopID), scope, m, cmd.RecordMovement, cmd.OrderRef)
}
