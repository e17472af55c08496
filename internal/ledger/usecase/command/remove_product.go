package command

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

// RemoveProductCommand deletes a removed product's stock rows. KeepShared
// retains group-scoped rows when other shops in the group still reference the
// product. The catalog, which owns product references, decides that.
type RemoveProductCommand struct {
	ProductID  uint32
	KeepShared bool
}

type RemoveProductHandler struct {
	repo        domain.StockRepository
	invalidator domain.CacheInvalidator
}

func NewRemoveProductHandler(repo domain.StockRepository, invalidator domain.CacheInvalidator) *RemoveProductHandler {
	return &RemoveProductHandler{repo: repo, invalidator: invalidator}
}

// Handle removes stock and location state. Movement entries are retained:
// the audit trail outlives the product.
func (h *RemoveProductHandler) Handle(ctx context.Context, cmd RemoveProductCommand) error {
	if cmd.ProductID == 0 {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}

	removed, err := h.repo.DeleteProduct(ctx, cmd.ProductID, cmd.KeepShared)
	if err != nil {
		return err
	}

	for _, rec := range removed {
		h.invalidator.Invalidate(ctx, rec.Scope().CacheKey(rec.ProductID, rec.VariantID))
	}

	logger.WithContext(ctx).Info().
		Uint32("product_id", cmd.ProductID).
		Bool("keep_shared", cmd.KeepShared).
		Int("rows_removed", len(removed)).
		Msg("Product stock removed")
	return nil
}
