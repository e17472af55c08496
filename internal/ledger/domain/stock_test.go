package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeKeyString(t *testing.T) {
	assert.Equal(t, "shop:7", ShopScope(7).String())
	assert.Equal(t, "group:3", GroupScope(3).String())
	assert.Equal(t, "unscoped", ScopeKey{}.String())
}

func TestScopeKeyCacheKey(t *testing.T) {
	assert.Equal(t, "stock:qty:p10:v2:shop:7", ShopScope(7).CacheKey(10, 2))
	assert.Equal(t, "stock:qty:p10:v0:group:3", GroupScope(3).CacheKey(10, 0))

	// Shop and group scopes with the same numeric id must never collide.
	assert.NotEqual(t, ShopScope(5).CacheKey(1, 1), GroupScope(5).CacheKey(1, 1))
}

func TestQuantityBoundsContains(t *testing.T) {
	b := QuantityBounds{Min: -10, Max: 100}

	assert.True(t, b.Contains(0))
	assert.True(t, b.Contains(-10))
	assert.True(t, b.Contains(100))
	assert.False(t, b.Contains(-11))
	assert.False(t, b.Contains(101))

	// int64 inputs far outside int32 must not wrap back into range.
	assert.False(t, DefaultBounds.Contains(int64(DefaultBounds.Max)+1))
	assert.False(t, DefaultBounds.Contains(1<<40))
}

func TestOutOfStockPolicy(t *testing.T) {
	assert.True(t, PolicyDeny.Valid())
	assert.True(t, PolicyAllow.Valid())
	assert.True(t, PolicyUseGlobalDefault.Valid())
	assert.False(t, OutOfStockPolicy(3).Valid())
	assert.False(t, OutOfStockPolicy(-1).Valid())

	assert.Equal(t, "deny", PolicyDeny.String())
	assert.Equal(t, "allow", PolicyAllow.String())
	assert.Equal(t, "default", PolicyUseGlobalDefault.String())
}

func TestMutationDelta(t *testing.T) {
	assert.Equal(t, int32(-7), Mutation{Previous: 10, New: 3}.Delta())
	assert.Equal(t, int32(50), Mutation{Previous: 0, New: 50, Created: true}.Delta())
	assert.Equal(t, int32(0), Mutation{Previous: 5, New: 5}.Delta())
}

func TestStockRecordScopeRoundTrip(t *testing.T) {
	var rec StockRecord

	rec.SetScope(ShopScope(4))
	assert.Equal(t, uint32(4), rec.ShopID)
	assert.Equal(t, uint32(0), rec.ShopGroupID)
	assert.Equal(t, ShopScope(4), rec.Scope())

	rec.SetScope(GroupScope(9))
	assert.Equal(t, uint32(0), rec.ShopID)
	assert.Equal(t, uint32(9), rec.ShopGroupID)
	assert.Equal(t, GroupScope(9), rec.Scope())
}
