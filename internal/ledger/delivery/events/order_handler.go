package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tair/stock-ledger/internal/ledger/usecase/command"
	"github.com/tair/stock-ledger/kafka"
	"github.com/tair/stock-ledger/pkg/logger"
)

// OrderHandler decrements stock for each line of a placed order. Every
// decrement is recorded as a movement with the order id as its reference.
type OrderHandler struct {
	adjust *command.AdjustQuantityHandler
}

func NewOrderHandler(adjust *command.AdjustQuantityHandler) *OrderHandler {
	return &OrderHandler{adjust: adjust}
}

// HandleOrderPlaced consumes an order-placed payload. Line items are applied
// independently so one bad line does not block the rest; the first failure is
// returned after all lines were attempted.
func (h *OrderHandler) HandleOrderPlaced(ctx context.Context, payload []byte) error {
	var event kafka.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal order placed event: %w", err)
	}

	log := logger.WithContext(ctx)
	log.Info().
		Str("order_id", event.OrderID).
		Uint32("shop_id", event.ShopID).
		Int("items", len(event.Items)).
		Msg("Processing order placed event")

	var firstErr error
	for _, item := range event.Items {
		if item.Quantity <= 0 {
			log.Warn().
				Str("order_id", event.OrderID).
				Uint32("product_id", item.ProductID).
				Int32("quantity", item.Quantity).
				Msg("Skipping order line with non-positive quantity")
			continue
		}
		err := h.adjust.Handle(ctx, command.AdjustQuantityCommand{
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Delta:          -item.Quantity,
			ShopID:         event.ShopID,
			RecordMovement: true,
			OrderRef:       event.OrderID,
		})
		if err != nil {
			log.Error().
				Err(err).
				Str("order_id", event.OrderID).
				Uint32("product_id", item.ProductID).
				Uint32("variant_id", item.VariantID).
				Msg("Failed to decrement stock for order line")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
