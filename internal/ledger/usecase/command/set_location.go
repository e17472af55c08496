package command

import (
	"context"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

// SetLocationCommand associates a free-text location with a stock key.
// Location is independent of quantity semantics.
type SetLocationCommand struct {
	ProductID uint32
	VariantID uint32
	ShopID    uint32
	Location  string
}

type SetLocationHandler struct {
	repo     domain.StockRepository
	resolver *domain.ScopeResolver
}

func NewSetLocationHandler(repo domain.StockRepository, resolver *domain.ScopeResolver) *SetLocationHandler {
	return &SetLocationHandler{repo: repo, resolver: resolver}
}

// Handle replaces any existing association for the exact key; a key maps to
// at most one location string.
func (h *SetLocationHandler) Handle(ctx context.Context, cmd SetLocationCommand) error {
	if cmd.ProductID == 0 {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}

	scope, err := h.resolver.Resolve(ctx, cmd.ShopID)
	if err != nil {
		return err
	}
	return h.repo.SetLocation(ctx, cmd.ProductID, cmd.VariantID, scope, cmd.Location)
}
