package kafka

import (
	"context"
	"time"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

var _ domain.Notifier = (*Notifier)(nil)

// Notifier adapts the publisher to the ledger's hook-sink boundary.
// Delivery is fire-and-forget: the write path must never block on a slow
// broker, and a lost notification is acceptable where a lost write is not.
type Notifier struct {
	publisher *Publisher
	timeout   time.Duration
}

func NewNotifier(publisher *Publisher) *Notifier {
	return &Notifier{publisher: publisher, timeout: 5 * time.Second}
}

func (n *Notifier) QuantityChanged(ctx context.Context, change domain.QuantityChange) {
	// Detach from the request context: the row write has already committed,
	// so a caller hanging up must not cancel the notification.
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		err := n.publisher.PublishQuantityChanged(ctx, QuantityChangedEvent{
			ProductID:   change.ProductID,
			VariantID:   change.VariantID,
			ShopID:      change.ShopID,
			Scope:       change.Scope.String(),
			NewQuantity: change.NewQuantity,
			Delta:       change.Delta,
		})
		if err != nil {
			logger.WithContext(ctx).Error().
				Err(err).
				Uint32("product_id", change.ProductID).
				Uint32("variant_id", change.VariantID).
				Msg("Failed to publish quantity change")
		}
	}()
}
