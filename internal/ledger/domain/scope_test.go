package domain

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTopology struct {
	groups  map[uint32]uint32
	sharing map[uint32]bool
}

func (s stubTopology) ShopGroup(_ context.Context, shopID uint32) (uint32, error) {
	groupID, ok := s.groups[shopID]
	if !ok {
		return 0, fmt.Errorf("unknown shop %d", shopID)
	}
	return groupID, nil
}

func (s stubTopology) SharesStock(_ context.Context, groupID uint32) (bool, error) {
	return s.sharing[groupID], nil
}

func TestScopeResolver(t *testing.T) {
	topology := stubTopology{
		groups:  map[uint32]uint32{1: 10, 2: 10, 3: 20},
		sharing: map[uint32]bool{10: true, 20: false},
	}
	resolver := NewScopeResolver(topology, 3)
	ctx := context.Background()

	t.Run("sharing group resolves to group scope", func(t *testing.T) {
		scope, err := resolver.Resolve(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, GroupScope(10), scope)

		// Both members of the group land on the same key.
		other, err := resolver.Resolve(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, scope, other)
	})

	t.Run("non-sharing group resolves to shop scope", func(t *testing.T) {
		scope, err := resolver.Resolve(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, ShopScope(3), scope)
	})

	t.Run("zero shop falls back to the ambient shop", func(t *testing.T) {
		scope, err := resolver.Resolve(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, ShopScope(3), scope)
		assert.Equal(t, uint32(3), resolver.EffectiveShop(0))
	})

	t.Run("unknown shop fails scope resolution", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, 99)
		assert.ErrorIs(t, err, ErrScopeResolution)
	})

	t.Run("no ambient shop configured", func(t *testing.T) {
		bare := NewScopeResolver(topology, 0)
		_, err := bare.Resolve(ctx, 0)
		assert.ErrorIs(t, err, ErrScopeResolution)
	})
}
