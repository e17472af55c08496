package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/logger"
)

const (
	mutateAttempts = 3
	mutateBackoff  = 25 * time.Millisecond
)

// mutateWithRetry retries conflicted mutations a bounded number of times with
// exponential backoff before surfacing ErrConcurrentConflict to the caller.
func mutateWithRetry(ctx context.Context, repo domain.StockRepository, productID, variantID uint32, scope domain.ScopeKey, fn domain.MutateFunc) (domain.Mutation, error) {
	backoff := mutateBackoff
	var m domain.Mutation
	var err error
	for attempt := 1; attempt <= mutateAttempts; attempt++ {
		m, err = repo.Mutate(ctx, productID, variantID, scope, fn)
		if err == nil || !errors.Is(err, domain.ErrConcurrentConflict) {
			return m, err
		}
		logger.WithContext(ctx).Warn().
			Uint32("product_id", productID).
			Uint32("variant_id", variantID).
			Str("scope", scope.String()).
			Int("attempt", attempt).
			Msg("Stock mutation conflicted, retrying")
		select {
		case <-ctx.Done():
			return domain.Mutation{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return m, err
}

// guardAggregateRow rejects direct writes to the variant 0 row of a product
// that has variant rows: that row is derived by the aggregate recompute.
func guardAggregateRow(ctx context.Context, repo domain.StockRepository, productID uint32, variantID uint32, scope domain.ScopeKey) error {
	if variantID != 0 {
		return nil
	}
	_, rows, err := repo.SumVariants(ctx, productID, scope)
	if err != nil {
		return err
	}
	if rows > 0 {
		return fmt.Errorf("%w: product %d", domain.ErrAggregateRowWrite, productID)
	}
	return nil
}

// sideEffects is the shared tail of every quantity mutation: cache
// invalidation, aggregate recompute for variant rows, movement append, and
// the post-commit notification. The row write has already committed by the
// time this runs, so invalidation and recompute execute unconditionally; a
// failure in one step must not leave the cache serving the old quantity or
// the aggregate row out of sync. The first failure is surfaced after every
// step has run.
type sideEffects struct {
	movements   domain.MovementRepository
	invalidator domain.CacheInvalidator
	recompute   *RecomputeAggregateHandler
	notifier    domain.Notifier
}

func (s *sideEffects) apply(ctx context.Context, productID, variantID, shopID uint32, scope domain.ScopeKey, m domain.Mutation, recordMovement bool, orderRef string) error {
	s.invalidator.Invalidate(ctx, scope.CacheKey(productID, variantID))

	var firstErr error
	if variantID != 0 {
		if err := s.recompute.Handle(ctx, productID, scope); err != nil {
			firstErr = err
		}
	}

	if recordMovement && m.Delta() != 0 {
		entry := &domain.MovementEntry{
			ProductID:  productID,
			VariantID:  variantID,
			Delta:      m.Delta(),
			OrderRef:   orderRef,
			OccurredAt: time.Now().UTC(),
		}
		entry.SetScope(scope)
		if err := s.movements.Append(ctx, entry); err != nil {
			logger.WithContext(ctx).Error().
				Err(err).
				Uint32("product_id", productID).
				Uint32("variant_id", variantID).
				Str("scope", scope.String()).
				Int32("delta", m.Delta()).
				Msg("Movement append failed after committed write")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.notifier.QuantityChanged(ctx, domain.QuantityChange{
		ProductID:   productID,
		VariantID:   variantID,
		ShopID:      shopID,
		Scope:       scope,
		NewQuantity: m.New,
		Delta:       m.Delta(),
	})
	return firstErr
}
