package domain

import (
	"context"
	"fmt"
	"time"
)

// ScopeKind discriminates the two pooling boundaries a stock row can belong to.
type ScopeKind uint8

const (
	ScopeShop ScopeKind = iota + 1
	ScopeShopGroup
)

// ScopeKey identifies the pool a quantity is counted in: a single shop, or a
// shop group whose members share stock. Exactly one of the two kinds applies
// to a given (product, variant); the resolver decides which.
type ScopeKey struct {
	Kind ScopeKind
	ID   uint32
}

func ShopScope(shopID uint32) ScopeKey {
	return ScopeKey{Kind: ScopeShop, ID: shopID}
}

func GroupScope(groupID uint32) ScopeKey {
	return ScopeKey{Kind: ScopeShopGroup, ID: groupID}
}

func (k ScopeKey) IsZero() bool {
	return k.Kind == 0
}

func (k ScopeKey) String() string {
	switch k.Kind {
	case ScopeShop:
		return fmt.Sprintf("shop:%d", k.ID)
	case ScopeShopGroup:
		return fmt.Sprintf("group:%d", k.ID)
	}
	return "unscoped"
}

// CacheKey derives the stable cache key for a quantity entry. Read and write
// paths must build the key from the same resolved scope.
func (k ScopeKey) CacheKey(productID, variantID uint32) string {
	return fmt.Sprintf("stock:qty:p%d:v%d:%s", productID, variantID, k.String())
}

// OutOfStockPolicy controls whether selling below zero is permitted.
type OutOfStockPolicy int16

const (
	PolicyDeny OutOfStockPolicy = iota
	PolicyAllow
	PolicyUseGlobalDefault
)

func (p OutOfStockPolicy) Valid() bool {
	return p >= PolicyDeny && p <= PolicyUseGlobalDefault
}

func (p OutOfStockPolicy) String() string {
	switch p {
	case PolicyDeny:
		return "deny"
	case PolicyAllow:
		return "allow"
	case PolicyUseGlobalDefault:
		return "default"
	}
	return "unknown"
}

// StockRecord is the authoritative row for one (product, variant, scope)
// triple. VariantID 0 is the product's own row: the sole record for a product
// without variants, or the derived aggregate row when variants exist.
// Exactly one of ShopID / ShopGroupID is non-zero.
type StockRecord struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	ProductID   uint32           `json:"product_id" gorm:"not null;index;uniqueIndex:idx_stock_natural_key"`
	VariantID   uint32           `json:"variant_id" gorm:"not null;default:0;uniqueIndex:idx_stock_natural_key"`
	ShopID      uint32           `json:"shop_id" gorm:"not null;default:0;uniqueIndex:idx_stock_natural_key"`
	ShopGroupID uint32           `json:"shop_group_id" gorm:"not null;default:0;uniqueIndex:idx_stock_natural_key"`
	Quantity    int32            `json:"quantity" gorm:"not null;default:0"`
	OutOfStock  OutOfStockPolicy `json:"out_of_stock" gorm:"not null;default:2"`
	Location    string           `json:"location" gorm:"size:255"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TableName specifies the table name
func (StockRecord) TableName() string {
	return "stock_records"
}

func (r *StockRecord) Scope() ScopeKey {
	if r.ShopGroupID != 0 {
		return GroupScope(r.ShopGroupID)
	}
	return ShopScope(r.ShopID)
}

func (r *StockRecord) SetScope(k ScopeKey) {
	r.ShopID, r.ShopGroupID = 0, 0
	switch k.Kind {
	case ScopeShop:
		r.ShopID = k.ID
	case ScopeShopGroup:
		r.ShopGroupID = k.ID
	}
}

// MovementEntry is one append-only audit line: a signed quantity delta
// attributable to a cause. It is derived data, never the source of truth for
// the current quantity.
type MovementEntry struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ProductID   uint32    `json:"product_id" gorm:"not null;index:idx_movement_key"`
	VariantID   uint32    `json:"variant_id" gorm:"not null;default:0;index:idx_movement_key"`
	ShopID      uint32    `json:"shop_id" gorm:"not null;default:0"`
	ShopGroupID uint32    `json:"shop_group_id" gorm:"not null;default:0"`
	Delta       int32     `json:"delta" gorm:"not null"`
	OrderRef    string    `json:"order_ref,omitempty" gorm:"size:64"`
	OccurredAt  time.Time `json:"occurred_at" gorm:"not null;index:idx_movement_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name
func (MovementEntry) TableName() string {
	return "stock_movements"
}

func (m *MovementEntry) Scope() ScopeKey {
	if m.ShopGroupID != 0 {
		return GroupScope(m.ShopGroupID)
	}
	return ShopScope(m.ShopID)
}

func (m *MovementEntry) SetScope(k ScopeKey) {
	m.ShopID, m.ShopGroupID = 0, 0
	switch k.Kind {
	case ScopeShop:
		m.ShopID = k.ID
	case ScopeShopGroup:
		m.ShopGroupID = k.ID
	}
}

// Shop and ShopGroup are read-only reference tables owned by shop management.
type Shop struct {
	ID      uint32 `json:"id" gorm:"primaryKey"`
	GroupID uint32 `json:"group_id" gorm:"not null;index"`
}

func (Shop) TableName() string { return "shops" }

type ShopGroup struct {
	ID          uint32 `json:"id" gorm:"primaryKey"`
	SharesStock bool   `json:"shares_stock" gorm:"not null;default:false"`
}

func (ShopGroup) TableName() string { return "shop_groups" }

// QuantityBounds is the configured valid range for a quantity. Writes outside
// the range are rejected, not clamped.
type QuantityBounds struct {
	Min int32
	Max int32
}

// DefaultBounds leaves headroom below the int32 limits so delta arithmetic in
// int64 space can never be truncated back into range.
var DefaultBounds = QuantityBounds{Min: -2_000_000_000, Max: 2_000_000_000}

func (b QuantityBounds) Contains(q int64) bool {
	return q >= int64(b.Min) && q <= int64(b.Max)
}

// Mutation reports the settled outcome of one atomic read-modify-write.
type Mutation struct {
	Previous int32
	New      int32
	Created  bool
}

func (m Mutation) Delta() int32 {
	return m.New - m.Previous
}

// MutateFunc computes the next quantity from the current one inside the
// storage-level critical section. exists is false when no row was present.
type MutateFunc func(current int32, exists bool) (int32, error)

// MovementQuery filters the audit trail. Zero From/To mean unbounded.
type MovementQuery struct {
	ProductID uint32
	VariantID uint32
	Scope     ScopeKey
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// QuantityChange is the payload of the post-commit notification.
type QuantityChange struct {
	ProductID   uint32
	VariantID   uint32
	ShopID      uint32
	Scope       ScopeKey
	NewQuantity int32
	Delta       int32
}

// StockRepository is the backing-store boundary. Mutate must execute fn inside
// an atomic unit (row lock or equivalent) covering the read, the computation
// and the write; absent rows are upserted with fn's result.
type StockRepository interface {
	Find(ctx context.Context, productID, variantID uint32, scope ScopeKey) (*StockRecord, error)
	SumQuantity(ctx context.Context, productID, variantID uint32, scope ScopeKey) (int32, error)
	SumVariants(ctx context.Context, productID uint32, scope ScopeKey) (int32, int64, error)
	Mutate(ctx context.Context, productID, variantID uint32, scope ScopeKey, fn MutateFunc) (Mutation, error)
	UpdatePolicy(ctx context.Context, productID, variantID uint32, scope ScopeKey, policy OutOfStockPolicy) error
	SetLocation(ctx context.Context, productID, variantID uint32, scope ScopeKey, location string) error
	GetLocation(ctx context.Context, productID, variantID uint32, scope ScopeKey) (string, bool, error)
	DeleteProduct(ctx context.Context, productID uint32, keepShared bool) ([]StockRecord, error)
}

// MovementRepository is append-only; no update or delete is exposed.
type MovementRepository interface {
	Append(ctx context.Context, entry *MovementEntry) error
	List(ctx context.Context, q MovementQuery) ([]MovementEntry, error)
}

// TopologyProvider exposes the shop/group reference data the resolver needs.
type TopologyProvider interface {
	ShopGroup(ctx context.Context, shopID uint32) (uint32, error)
	SharesStock(ctx context.Context, groupID uint32) (bool, error)
}

// QuantityCache is the read-through cache collaborator. Entries have no TTL;
// they live until explicitly invalidated by a mutation.
type QuantityCache interface {
	Get(ctx context.Context, key string) (int32, bool, error)
	Set(ctx context.Context, key string, quantity int32) error
	Invalidate(ctx context.Context, key string) error
}

// CacheInvalidator is the write path's view of the cache: invalidation never
// fails the caller, failures are retried out of band.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, key string)
}

// ConfigStore resolves the global backorder default.
type ConfigStore interface {
	GlobalOutOfStockPolicy(ctx context.Context) OutOfStockPolicy
}

// Notifier delivers QuantityChanged to the hook sink. Implementations must not
// block the write path on slow subscribers.
type Notifier interface {
	QuantityChanged(ctx context.Context, change QuantityChange)
}

// NopNotifier drops notifications; used when no sink is configured.
type NopNotifier struct{}

func (NopNotifier) QuantityChanged(context.Context, QuantityChange) {}
