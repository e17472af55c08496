package query

import (
	"context"
	"fmt"
	"time"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

const defaultMovementPageSize = 256

// ListMovementsQuery filters the audit trail for one key. Zero From/To mean
// unbounded; Limit 0 means the repository default page.
type ListMovementsQuery struct {
	ProductID uint32
	VariantID uint32
	ShopID    uint32
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// ListMovementsHandler reads the movement ledger for reconciliation tooling.
type ListMovementsHandler struct {
	movements domain.MovementRepository
	resolver  *domain.ScopeResolver
}

func NewListMovementsHandler(movements domain.MovementRepository, resolver *domain.ScopeResolver) *ListMovementsHandler {
	return &ListMovementsHandler{movements: movements, resolver: resolver}
}

func (h *ListMovementsHandler) Handle(ctx context.Context, q ListMovementsQuery) ([]domain.MovementEntry, error) {
	mq, err := h.toRepositoryQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return h.movements.List(ctx, mq)
}

// Stream returns a lazy, finite, restartable iterator over the matching
// entries in occurred_at ascending order. Restart by calling Stream again.
func (h *ListMovementsHandler) Stream(ctx context.Context, q ListMovementsQuery) (*MovementIterator, error) {
	mq, err := h.toRepositoryQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	pageSize := q.Limit
	if pageSize <= 0 {
		pageSize = defaultMovementPageSize
	}
	mq.Limit = pageSize
	return &MovementIterator{movements: h.movements, query: mq, pageSize: pageSize}, nil
}

func (h *ListMovementsHandler) toRepositoryQuery(ctx context.Context, q ListMovementsQuery) (domain.MovementQuery, error) {
	if q.ProductID == 0 {
		return domain.MovementQuery{}, fmt.Errorf("%w: product id is required", domain.ErrInvalidIdentifier)
	}
	scope, err := h.resolver.Resolve(ctx, q.ShopID)
	if err != nil {
		return domain.MovementQuery{}, err
	}
	return domain.MovementQuery{
		ProductID: q.ProductID,
		VariantID: q.VariantID,
		Scope:     scope,
		From:      q.From,
		To:        q.To,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}, nil
}

// MovementIterator pulls pages from the repository on demand.
type MovementIterator struct {
	movements domain.MovementRepository
	query     domain.MovementQuery
	pageSize  int
	buf       []domain.MovementEntry
	pos       int
	exhausted bool
}

// Next returns the next entry in order. ok is false once the sequence is
// exhausted.
func (it *MovementIterator) Next(ctx context.Context) (*domain.MovementEntry, bool, error) {
	if it.pos >= len(it.buf) {
		if it.exhausted {
			return nil, false, nil
		}
		page, err := it.movements.List(ctx, it.query)
		if err != nil {
			return nil, false, err
		}
		if len(page) < it.pageSize {
			it.exhausted = true
		}
		if len(page) == 0 {
			return nil, false, nil
		}
		it.query.Offset += len(page)
		it.buf = page
		it.pos = 0
	}

	entry := it.buf[it.pos]
	it.pos++
	return &entry, true, nil
}
