package domain

import (
	"context"
	"fmt"
)

// ScopeResolver decides whether a mutation or read is keyed by shop or by
// shop group. Every call site, read and write alike, must resolve through the
// same instance so the two paths can never disagree on the row key.
type ScopeResolver struct {
	topology      TopologyProvider
	defaultShopID uint32
}

// NewScopeResolver creates a resolver. defaultShopID is the ambient shop used
// when the caller supplies none; zero means there is no ambient context.
func NewScopeResolver(topology TopologyProvider, defaultShopID uint32) *ScopeResolver {
	return &ScopeResolver{topology: topology, defaultShopID: defaultShopID}
}

// Resolve maps a shop id (0 = ambient) to the scope its stock is pooled in.
// Pure function of topology state; no side effects.
func (r *ScopeResolver) Resolve(ctx context.Context, shopID uint32) (ScopeKey, error) {
	if shopID == 0 {
		shopID = r.defaultShopID
	}
	if shopID == 0 {
		return ScopeKey{}, fmt.Errorf("%w: no shop supplied and no ambient shop configured", ErrScopeResolution)
	}

	groupID, err := r.topology.ShopGroup(ctx, shopID)
	if err != nil {
		return ScopeKey{}, fmt.Errorf("%w: shop %d: %v", ErrScopeResolution, shopID, err)
	}

	shares, err := r.topology.SharesStock(ctx, groupID)
	if err != nil {
		return ScopeKey{}, fmt.Errorf("%w: group %d: %v", ErrScopeResolution, groupID, err)
	}

	if shares {
		return GroupScope(groupID), nil
	}
	return ShopScope(shopID), nil
}

// EffectiveShop reports which shop id a request will be attributed to.
func (r *ScopeResolver) EffectiveShop(shopID uint32) uint32 {
	if shopID == 0 {
		return r.defaultShopID
	}
	return shopID
}
