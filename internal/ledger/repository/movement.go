package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

var _ domain.MovementRepository = (*GormMovementRepository)(nil)

// GormMovementRepository is the append-only audit trail. No update or delete
// is exposed.
type GormMovementRepository struct {
	db *gorm.DB
}

func NewGormMovementRepository(db *gorm.DB) *GormMovementRepository {
	return &GormMovementRepository{db: db}
}

func (r *GormMovementRepository) Append(ctx context.Context, entry *domain.MovementEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return wrapStorageErr("append movement", err)
	}
	return nil
}

// List returns entries ordered by occurred_at ascending. The id tiebreak keeps
// pagination stable when timestamps collide.
func (r *GormMovementRepository) List(ctx context.Context, q domain.MovementQuery) ([]domain.MovementEntry, error) {
	tx := r.db.WithContext(ctx).Model(&domain.MovementEntry{}).
		Where("product_id = ? AND variant_id = ?", q.ProductID, q.VariantID)
	if !q.Scope.IsZero() {
		tx = scopeWhere(tx, q.Scope)
	}
	if !q.From.IsZero() {
		tx = tx.Where("occurred_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("occurred_at < ?", q.To)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var entries []domain.MovementEntry
	if err := tx.Order("occurred_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, wrapStorageErr("list movements", err)
	}
	return entries, nil
}
