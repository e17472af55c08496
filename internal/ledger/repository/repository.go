package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

var _ domain.StockRepository = (*GormStockRepository)(nil)

// GormStockRepository persists stock rows in PostgreSQL. Mutations run inside
// a transaction holding SELECT ... FOR UPDATE on the row, which serializes
// concurrent writers on the same natural key.
type GormStockRepository struct {
	db *gorm.DB
}

func NewGormStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db}
}

func (r *GormStockRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.StockRecord{}, &domain.MovementEntry{}, &domain.Shop{}, &domain.ShopGroup{})
}

func scopeWhere(db *gorm.DB, scope domain.ScopeKey) *gorm.DB {
	switch scope.Kind {
	case domain.ScopeShop:
		return db.Where("shop_id = ? AND shop_group_id = 0", scope.ID)
	case domain.ScopeShopGroup:
		return db.Where("shop_id = 0 AND shop_group_id = ?", scope.ID)
	}
	return db.Where("1 = 0")
}

func (r *GormStockRepository) Find(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	tx := r.db.WithContext(ctx).Where("product_id = ? AND variant_id = ?", productID, variantID)
	err := scopeWhere(tx, scope).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStorageErr("find stock record", err)
	}
	return &rec, nil
}

// SumQuantity sums over matching rows rather than reading a single one, to
// tolerate historical duplicate rows for the same natural key.
func (r *GormStockRepository) SumQuantity(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey) (int32, error) {
	var total int64
	tx := r.db.WithContext(ctx).Model(&domain.StockRecord{}).
		Where("product_id = ? AND variant_id = ?", productID, variantID)
	err := scopeWhere(tx, scope).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, wrapStorageErr("sum stock quantity", err)
	}
	return sumToInt32(total)
}

// SumVariants returns the sum over all variant rows (variant_id <> 0) for the
// product within the scope, plus the number of variant rows found.
func (r *GormStockRepository) SumVariants(ctx context.Context, productID uint32, scope domain.ScopeKey) (int32, int64, error) {
	var result struct {
		Total int64
		Rows  int64
	}
	tx := r.db.WithContext(ctx).Model(&domain.StockRecord{}).
		Where("product_id = ? AND variant_id <> 0", productID)
	err := scopeWhere(tx, scope).
		Select("COALESCE(SUM(quantity), 0) AS total, COUNT(*) AS rows").
		Scan(&result).Error
	if err != nil {
		return 0, 0, wrapStorageErr("sum variant quantities", err)
	}
	sum, err := sumToInt32(result.Total)
	if err != nil {
		return 0, 0, err
	}
	return sum, result.Rows, nil
}

// sumToInt32 guards the int64 SQL aggregate before narrowing it. Individual
// quantities are bounded, but a sum over several rows can leave int32 range.
func sumToInt32(total int64) (int32, error) {
	if total < math.MinInt32 || total > math.MaxInt32 {
		return 0, fmt.Errorf("%w: summed quantity %d is outside the representable range", domain.ErrRangeViolation, total)
	}
	return int32(total), nil
}

// Mutate runs fn against the locked current quantity and writes the result.
// A missing row is created lazily with fn's output (upsert semantics).
func (r *GormStockRepository) Mutate(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, fn domain.MutateFunc) (domain.Mutation, error) {
	var m domain.Mutation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.StockRecord
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("product_id = ? AND variant_id = ?", productID, variantID)
		err := scopeWhere(q, scope).First(&rec).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		next, err := fn(rec.Quantity, exists)
		if err != nil {
			return err
		}

		m = domain.Mutation{Previous: rec.Quantity, New: next, Created: !exists}
		if !exists {
			rec = domain.StockRecord{
				ProductID:  productID,
				VariantID:  variantID,
				Quantity:   next,
				OutOfStock: domain.PolicyUseGlobalDefault,
			}
			rec.SetScope(scope)
			return tx.Create(&rec).Error
		}
		return tx.Model(&rec).Update("quantity", next).Error
	})
	if err != nil {
		return domain.Mutation{}, classifyMutationErr(err)
	}
	return m, nil
}

func (r *GormStockRepository) UpdatePolicy(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, policy domain.OutOfStockPolicy) error {
	return r.upsertAttribute(ctx, productID, variantID, scope, "out_of_stock", policy)
}

// SetLocation has replace-or-create semantics: a key maps to at most one
// location string, so the previous value is always overwritten.
func (r *GormStockRepository) SetLocation(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, location string) error {
	return r.upsertAttribute(ctx, productID, variantID, scope, "location", location)
}

func (r *GormStockRepository) upsertAttribute(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, column string, value interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.StockRecord{}).
			Where("product_id = ? AND variant_id = ?", productID, variantID)
		res := scopeWhere(q, scope).Update(column, value)
		if res.Error != nil {
			return wrapStorageErr("update "+column, res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		rec := domain.StockRecord{
			ProductID:  productID,
			VariantID:  variantID,
			OutOfStock: domain.PolicyUseGlobalDefault,
		}
		rec.SetScope(scope)
		switch column {
		case "location":
			rec.Location = value.(string)
		case "out_of_stock":
			rec.OutOfStock = value.(domain.OutOfStockPolicy)
		}
		if err := tx.Create(&rec).Error; err != nil {
			return wrapStorageErr("create stock record", err)
		}
		return nil
	})
}

func (r *GormStockRepository) GetLocation(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey) (string, bool, error) {
	rec, err := r.Find(ctx, productID, variantID, scope)
	if err != nil {
		return "", false, err
	}
	if rec == nil || rec.Location == "" {
		return "", false, nil
	}
	return rec.Location, true, nil
}

// DeleteProduct removes all stock rows for the product. With keepShared set,
// group-scoped rows survive because other shops in the group still reference
// the product. Movements are never deleted. The removed rows are returned so
// the caller can invalidate their cache entries.
func (r *GormStockRepository) DeleteProduct(ctx context.Context, productID uint32, keepShared bool) ([]domain.StockRecord, error) {
	var removed []domain.StockRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("product_id = ?", productID)
		if keepShared {
			q = q.Where("shop_group_id = 0")
		}
		if err := q.Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(removed))
		for _, rec := range removed {
			ids = append(ids, rec.ID)
		}
		return tx.Delete(&domain.StockRecord{}, ids).Error
	})
	if err != nil {
		return nil, wrapStorageErr("delete product stock", err)
	}
	return removed, nil
}

func wrapStorageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// classifyMutationErr keeps domain sentinels produced by the mutate closure
// intact and maps retriable postgres failures to ErrConcurrentConflict.
func classifyMutationErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrRangeViolation),
		errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrAggregateRowWrite):
		return err
	case isRetriable(err):
		return fmt.Errorf("%w: %v", domain.ErrConcurrentConflict, err)
	default:
		return wrapStorageErr("mutate stock record", err)
	}
}

// SQLSTATE 40001 = serialization_failure, 40P01 = deadlock_detected,
// 23505 = unique_violation. The last one arises when concurrent first writes
// to an absent row race through the create branch; FOR UPDATE locks nothing
// on a missing row, so the losers hit the natural-key unique index. A retry
// then finds the winner's row and locks it.
func isRetriable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
