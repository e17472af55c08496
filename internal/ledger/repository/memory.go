package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

// In-memory implementations of the storage boundaries, used by tests and
// local runs without a database. A single mutex per repository stands in for
// the row lock: mutations on any key are serialized, which is strictly
// stronger than the per-key guarantee the contract requires.

type stockKey struct {
	productID uint32
	variantID uint32
	scope     domain.ScopeKey
}

var _ domain.StockRepository = (*MemoryStockRepository)(nil)

type MemoryStockRepository struct {
	mu      sync.Mutex
	records map[stockKey]*domain.StockRecord
	nextID  uint
}

func NewMemoryStockRepository() *MemoryStockRepository {
	return &MemoryStockRepository{records: make(map[stockKey]*domain.StockRecord)}
}

func (r *MemoryStockRepository) Find(_ context.Context, productID, variantID uint32, scope domain.ScopeKey) (*domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[stockKey{productID, variantID, scope}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryStockRepository) SumQuantity(_ context.Context, productID, variantID uint32, scope domain.ScopeKey) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[stockKey{productID, variantID, scope}]; ok {
		return rec.Quantity, nil
	}
	return 0, nil
}

func (r *MemoryStockRepository) SumVariants(_ context.Context, productID uint32, scope domain.ScopeKey) (int32, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	var rows int64
	for key, rec := range r.records {
		if key.productID == productID && key.variantID != 0 && key.scope == scope {
			sum += int64(rec.Quantity)
			rows++
		}
	}
	return int32(sum), rows, nil
}

func (r *MemoryStockRepository) Mutate(_ context.Context, productID, variantID uint32, scope domain.ScopeKey, fn domain.MutateFunc) (domain.Mutation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stockKey{productID, variantID, scope}
	rec, exists := r.records[key]
	var current int32
	if exists {
		current = rec.Quantity
	}

	next, err := fn(current, exists)
	if err != nil {
		return domain.Mutation{}, err
	}

	now := time.Now()
	if !exists {
		r.nextID++
		rec = &domain.StockRecord{
			ID:         r.nextID,
			ProductID:  productID,
			VariantID:  variantID,
			Quantity:   next,
			OutOfStock: domain.PolicyUseGlobalDefault,
			CreatedAt:  now,
		}
		rec.SetScope(scope)
		r.records[key] = rec
	} else {
		rec.Quantity = next
	}
	rec.UpdatedAt = now

	return domain.Mutation{Previous: current, New: next, Created: !exists}, nil
}

func (r *MemoryStockRepository) UpdatePolicy(_ context.Context, productID, variantID uint32, scope domain.ScopeKey, policy domain.OutOfStockPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.ensureLocked(productID, variantID, scope)
	rec.OutOfStock = policy
	return nil
}

func (r *MemoryStockRepository) SetLocation(_ context.Context, productID, variantID uint32, scope domain.ScopeKey, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.ensureLocked(productID, variantID, scope)
	rec.Location = location
	return nil
}

func (r *MemoryStockRepository) GetLocation(_ context.Context, productID, variantID uint32, scope domain.ScopeKey) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[stockKey{productID, variantID, scope}]
	if !ok || rec.Location == "" {
		return "", false, nil
	}
	return rec.Location, true, nil
}

func (r *MemoryStockRepository) DeleteProduct(_ context.Context, productID uint32, keepShared bool) ([]domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []domain.StockRecord
	for key, rec := range r.records {
		if key.productID != productID {
			continue
		}
		if keepShared && key.scope.Kind == domain.ScopeShopGroup {
			continue
		}
		removed = append(removed, *rec)
		delete(r.records, key)
	}
	return removed, nil
}

func (r *MemoryStockRepository) ensureLocked(productID, variantID uint32, scope domain.ScopeKey) *domain.StockRecord {
	key := stockKey{productID, variantID, scope}
	rec, ok := r.records[key]
	if !ok {
		r.nextID++
		rec = &domain.StockRecord{
			ID:         r.nextID,
			ProductID:  productID,
			VariantID:  variantID,
			OutOfStock: domain.PolicyUseGlobalDefault,
			CreatedAt:  time.Now(),
		}
		rec.SetScope(scope)
		r.records[key] = rec
	}
	rec.UpdatedAt = time.Now()
	return rec
}

var _ domain.MovementRepository = (*MemoryMovementRepository)(nil)

type MemoryMovementRepository struct {
	mu      sync.Mutex
	entries []domain.MovementEntry
	nextID  uint
}

func NewMemoryMovementRepository() *MemoryMovementRepository {
	return &MemoryMovementRepository{}
}

func (r *MemoryMovementRepository) Append(_ context.Context, entry *domain.MovementEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryMovementRepository) List(_ context.Context, q domain.MovementQuery) ([]domain.MovementEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.MovementEntry
	for _, e := range r.entries {
		if e.ProductID != q.ProductID || e.VariantID != q.VariantID {
			continue
		}
		if !q.Scope.IsZero() && e.Scope() != q.Scope {
			continue
		}
		if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !e.OccurredAt.Before(q.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].OccurredAt.Before(matched[j].OccurredAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

var _ domain.TopologyProvider = (*MemoryTopologyProvider)(nil)

type MemoryTopologyProvider struct {
	mu     sync.RWMutex
	shops  map[uint32]uint32
	shared map[uint32]bool
}

func NewMemoryTopologyProvider() *MemoryTopologyProvider {
	return &MemoryTopologyProvider{
		shops:  make(map[uint32]uint32),
		shared: make(map[uint32]bool),
	}
}

func (p *MemoryTopologyProvider) AddShop(shopID, groupID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shops[shopID] = groupID
	if _, ok := p.shared[groupID]; !ok {
		p.shared[groupID] = false
	}
}

func (p *MemoryTopologyProvider) SetShared(groupID uint32, shares bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared[groupID] = shares
}

func (p *MemoryTopologyProvider) ShopGroup(_ context.Context, shopID uint32) (uint32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	groupID, ok := p.shops[shopID]
	if !ok {
		return 0, fmt.Errorf("unknown shop %d", shopID)
	}
	return groupID, nil
}

func (p *MemoryTopologyProvider) SharesStock(_ context.Context, groupID uint32) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shared[groupID], nil
}
