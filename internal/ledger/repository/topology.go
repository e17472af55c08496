package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

var _ domain.TopologyProvider = (*GormTopologyProvider)(nil)

// GormTopologyProvider reads the shops / shop_groups reference tables. The
// ledger never writes them; shop management owns the data.
type GormTopologyProvider struct {
	db *gorm.DB
}

func NewGormTopologyProvider(db *gorm.DB) *GormTopologyProvider {
	return &GormTopologyProvider{db: db}
}

func (p *GormTopologyProvider) ShopGroup(ctx context.Context, shopID uint32) (uint32, error) {
	var shop domain.Shop
	err := p.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("unknown shop %d", shopID)
		}
		return 0, wrapStorageErr("lookup shop group", err)
	}
	return shop.GroupID, nil
}

func (p *GormTopologyProvider) SharesStock(ctx context.Context, groupID uint32) (bool, error) {
	var group domain.ShopGroup
	err := p.db.WithContext(ctx).First(&group, "id = ?", groupID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("unknown shop group %d", groupID)
		}
		return false, wrapStorageErr("lookup shop group sharing", err)
	}
	return group.SharesStock, nil
}
