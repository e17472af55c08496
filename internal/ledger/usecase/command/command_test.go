package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/stock-ledger/internal/ledger/cache"
	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/internal/ledger/repository"
)

// Topology under test: shops 1 and 2 pool stock through group 10, shop 3
// keeps its own stock in group 20.
func newTestResolver() *domain.ScopeResolver {
	topology := repository.NewMemoryTopologyProvider()
	topology.AddShop(1, 10)
	topology.AddShop(2, 10)
	topology.AddShop(3, 20)
	topology.SetShared(10, true)
	return domain.NewScopeResolver(topology, 0)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []domain.QuantityChange
}

func (n *recordingNotifier) QuantityChanged(_ context.Context, change domain.QuantityChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
}

func (n *recordingNotifier) all() []domain.QuantityChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.QuantityChange(nil), n.changes...)
}

type testEnv struct {
	stock     *repository.MemoryStockRepository
	movements *repository.MemoryMovementRepository
	cache     *cache.MemoryQuantityCache
	resolver  *domain.ScopeResolver
	notifier  *recordingNotifier

	adjust      *AdjustQuantityHandler
	set         *SetQuantityHandler
	setLocation *SetLocationHandler
	remove      *RemoveProductHandler
}

func newTestEnv() *testEnv {
	stock := repository.NewMemoryStockRepository()
	movements := repository.NewMemoryMovementRepository()
	quantityCache := cache.NewMemoryQuantityCache()
	invalidator := cache.NewInvalidator(quantityCache)
	resolver := newTestResolver()
	notifier := &recordingNotifier{}
	recompute := NewRecomputeAggregateHandler(stock, invalidator)
	bounds := domain.DefaultBounds

	return &testEnv{
		stock:       stock,
		movements:   movements,
		cache:       quantityCache,
		resolver:    resolver,
		notifier:    notifier,
		adjust:      NewAdjustQuantityHandler(stock, movements, resolver, invalidator, recompute, notifier, bounds),
		set:         NewSetQuantityHandler(stock, movements, resolver, invalidator, recompute, notifier, bounds),
		setLocation: NewSetLocationHandler(stock, resolver),
		remove:      NewRemoveProductHandler(stock, invalidator),
	}
}

func (e *testEnv) quantity(t *testing.T, productID, variantID, shopID uint32) int32 {
	t.Helper()
	scope, err := e.resolver.Resolve(context.Background(), shopID)
	require.NoError(t, err)
	q, err := e.stock.SumQuantity(context.Background(), productID, variantID, scope)
	require.NoError(t, err)
	return q
}

func (e *testEnv) movementDeltas(t *testing.T, productID, variantID, shopID uint32) []int32 {
	t.Helper()
	scope, err := e.resolver.Resolve(context.Background(), shopID)
	require.NoError(t, err)
	entries, err := e.movements.List(context.Background(), domain.MovementQuery{
		ProductID: productID,
		VariantID: variantID,
		Scope:     scope,
	})
	require.NoError(t, err)
	deltas := make([]int32, 0, len(entries))
	for _, entry := range entries {
		deltas = append(deltas, entry.Delta)
	}
	return deltas
}

func TestSetThenAdjust(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 1, Quantity: 50, ShopID: 3}))
	assert.Equal(t, int32(50), env.quantity(t, 1, 0, 3))

	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{
		ProductID:      1,
		Delta:          -12,
		ShopID:         3,
		RecordMovement: true,
	}))
	assert.Equal(t, int32(38), env.quantity(t, 1, 0, 3))
	assert.Equal(t, []int32{-12}, env.movementDeltas(t, 1, 0, 3))
}

func TestSetQuantityRecordsImplicitDelta(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 2, Quantity: 10, ShopID: 3, RecordMovement: true}))
	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 2, Quantity: 3, ShopID: 3, RecordMovement: true}))

	assert.Equal(t, []int32{10, -7}, env.movementDeltas(t, 2, 0, 3))
}

func TestZeroDeltaIsANoOp(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 3, Delta: 0, ShopID: 3, RecordMovement: true}))

	assert.Empty(t, env.movementDeltas(t, 3, 0, 3))
	assert.Empty(t, env.notifier.all())
}

func TestSettingSameQuantityRecordsNoMovement(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 3, Quantity: 8, ShopID: 3, RecordMovement: true}))
	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 3, Quantity: 8, ShopID: 3, RecordMovement: true}))

	assert.Equal(t, []int32{8}, env.movementDeltas(t, 3, 0, 3))
}

func TestVariantWritesMaintainAggregateRow(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 4, VariantID: 1, Quantity: 5, ShopID: 3}))
	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 4, VariantID: 2, Quantity: 7, ShopID: 3}))

	assert.Equal(t, int32(12), env.quantity(t, 4, 0, 3))

	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 4, VariantID: 1, Delta: -5, ShopID: 3}))
	assert.Equal(t, int32(7), env.quantity(t, 4, 0, 3))
}

func TestVariantAggregateInSharedGroup(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 40, VariantID: 1, Quantity: 5, ShopID: 1}))
	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 40, VariantID: 2, Quantity: 7, ShopID: 1}))

	// The aggregate lands on the group key and every member shop sees it.
	assert.Equal(t, int32(12), env.quantity(t, 40, 0, 1))
	assert.Equal(t, int32(12), env.quantity(t, 40, 0, 2))
}

func TestAggregateRowRejectsDirectWrites(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 5, VariantID: 1, Quantity: 5, ShopID: 3}))

	err := env.set.Handle(ctx, SetQuantityCommand{ProductID: 5, Quantity: 100, ShopID: 3})
	assert.ErrorIs(t, err, domain.ErrAggregateRowWrite)

	err = env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 5, Delta: 1, ShopID: 3})
	assert.ErrorIs(t, err, domain.ErrAggregateRowWrite)

	// The variant rows themselves stay writable.
	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 5, VariantID: 1, Delta: 1, ShopID: 3}))
	assert.Equal(t, int32(6), env.quantity(t, 5, 0, 3))
}

func TestSharedGroupPoolsStock(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 6, Quantity: 5, ShopID: 1}))

	// Shop 2 shares group 10 with shop 1 and sees the same pool.
	assert.Equal(t, int32(5), env.quantity(t, 6, 0, 2))

	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 6, Delta: -2, ShopID: 2}))
	assert.Equal(t, int32(3), env.quantity(t, 6, 0, 1))

	// Shop 3 is outside the group and keeps independent stock.
	assert.Equal(t, int32(0), env.quantity(t, 6, 0, 3))
}

func TestQuantityRangeIsEnforced(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	err := env.set.Handle(ctx, SetQuantityCommand{ProductID: 7, Quantity: domain.DefaultBounds.Max + 1, ShopID: 3})
	assert.ErrorIs(t, err, domain.ErrRangeViolation)

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 7, Quantity: domain.DefaultBounds.Max, ShopID: 3}))
	err = env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 7, Delta: 1, ShopID: 3})
	assert.ErrorIs(t, err, domain.ErrRangeViolation)

	// A rejected adjustment leaves the stored quantity untouched.
	assert.Equal(t, domain.DefaultBounds.Max, env.quantity(t, 7, 0, 3))
}

func TestProductIDIsRequired(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	assert.ErrorIs(t, env.set.Handle(ctx, SetQuantityCommand{Quantity: 1, ShopID: 3}), domain.ErrInvalidIdentifier)
	assert.ErrorIs(t, env.adjust.Handle(ctx, AdjustQuantityCommand{Delta: 1, ShopID: 3}), domain.ErrInvalidIdentifier)
	assert.ErrorIs(t, env.setLocation.Handle(ctx, SetLocationCommand{ShopID: 3, Location: "x"}), domain.ErrInvalidIdentifier)
	assert.ErrorIs(t, env.remove.Handle(ctx, RemoveProductCommand{}), domain.ErrInvalidIdentifier)
}

func TestUnknownShopFailsBeforeWriting(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	err := env.set.Handle(ctx, SetQuantityCommand{ProductID: 8, Quantity: 1, ShopID: 99})
	assert.ErrorIs(t, err, domain.ErrScopeResolution)
}

func TestSetQuantityWithLocationAndPolicy(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	location := "bin 12"
	policy := domain.PolicyAllow
	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{
		ProductID: 9,
		Quantity:  4,
		ShopID:    3,
		Location:  &location,
		Policy:    &policy,
	}))

	scope, err := env.resolver.Resolve(ctx, 3)
	require.NoError(t, err)
	rec, err := env.stock.Find(ctx, 9, 0, scope)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "bin 12", rec.Location)
	assert.Equal(t, domain.PolicyAllow, rec.OutOfStock)

	badPolicy := domain.OutOfStockPolicy(42)
	err = env.set.Handle(ctx, SetQuantityCommand{ProductID: 9, Quantity: 4, ShopID: 3, Policy: &badPolicy})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
}

func TestWritesInvalidateCachedQuantity(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	scope, err := env.resolver.Resolve(ctx, 3)
	require.NoError(t, err)
	key := scope.CacheKey(10, 0)
	require.NoError(t, env.cache.Set(ctx, key, 1))

	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 10, Delta: 5, ShopID: 3}))

	_, ok, err := env.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveProductInvalidatesCache(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 11, Quantity: 5, ShopID: 3}))
	scope, err := env.resolver.Resolve(ctx, 3)
	require.NoError(t, err)
	key := scope.CacheKey(11, 0)
	require.NoError(t, env.cache.Set(ctx, key, 5))

	require.NoError(t, env.remove.Handle(ctx, RemoveProductCommand{ProductID: 11}))

	_, ok, err := env.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), env.quantity(t, 11, 0, 3))
}

func TestNotifierObservesCommittedQuantities(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	require.NoError(t, env.set.Handle(ctx, SetQuantityCommand{ProductID: 12, Quantity: 20, ShopID: 3}))
	require.NoError(t, env.adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 12, Delta: -8, ShopID: 3}))

	changes := env.notifier.all()
	require.Len(t, changes, 2)
	assert.Equal(t, int32(20), changes[0].NewQuantity)
	assert.Equal(t, int32(20), changes[0].Delta)
	assert.Equal(t, int32(12), changes[1].NewQuantity)
	assert.Equal(t, int32(-8), changes[1].Delta)
	assert.Equal(t, uint32(3), changes[1].ShopID)
}

// failingMovements rejects every append.
type failingMovements struct{}

func (failingMovements) Append(context.Context, *domain.MovementEntry) error {
	return errors.New("movement store down")
}

func (failingMovements) List(context.Context, domain.MovementQuery) ([]domain.MovementEntry, error) {
	return nil, nil
}

func TestFailedMovementAppendStillSyncsCacheAndAggregate(t *testing.T) {
	stock := repository.NewMemoryStockRepository()
	quantityCache := cache.NewMemoryQuantityCache()
	invalidator := cache.NewInvalidator(quantityCache)
	resolver := newTestResolver()
	notifier := &recordingNotifier{}
	recompute := NewRecomputeAggregateHandler(stock, invalidator)
	set := NewSetQuantityHandler(stock, failingMovements{}, resolver, invalidator, recompute, notifier, domain.DefaultBounds)
	adjust := NewAdjustQuantityHandler(stock, failingMovements{}, resolver, invalidator, recompute, notifier, domain.DefaultBounds)
	ctx := context.Background()

	require.NoError(t, set.Handle(ctx, SetQuantityCommand{ProductID: 13, VariantID: 1, Quantity: 5, ShopID: 3}))

	scope, err := resolver.Resolve(ctx, 3)
	require.NoError(t, err)
	variantKey := scope.CacheKey(13, 1)
	require.NoError(t, quantityCache.Set(ctx, variantKey, 5))

	err = adjust.Handle(ctx, AdjustQuantityCommand{ProductID: 13, VariantID: 1, Delta: -2, ShopID: 3, RecordMovement: true})
	require.Error(t, err)

	// The row write committed before the append failed; the cached quantity
	// and the aggregate row must not keep serving the old value.
	q, err := stock.SumQuantity(ctx, 13, 1, scope)
	require.NoError(t, err)
	assert.Equal(t, int32(3), q)

	_, ok, err := quantityCache.Get(ctx, variantKey)
	require.NoError(t, err)
	assert.False(t, ok, "committed write left a stale cache entry behind")

	agg, err := stock.SumQuantity(ctx, 13, 0, scope)
	require.NoError(t, err)
	assert.Equal(t, int32(3), agg)

	changes := notifier.all()
	require.NotEmpty(t, changes)
	assert.Equal(t, int32(3), changes[len(changes)-1].NewQuantity)
}

// conflictingRepo fails the first mutations with a retriable conflict.
type conflictingRepo struct {
	domain.StockRepository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) Mutate(ctx context.Context, productID, variantID uint32, scope domain.ScopeKey, fn domain.MutateFunc) (domain.Mutation, error) {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.Mutation{}, domain.ErrConcurrentConflict
	}
	r.mu.Unlock()
	return r.StockRepository.Mutate(ctx, productID, variantID, scope, fn)
}

func TestMutateWithRetry(t *testing.T) {
	ctx := context.Background()
	scope := domain.ShopScope(3)

	t.Run("recovers within the attempt budget", func(t *testing.T) {
		repo := &conflictingRepo{StockRepository: repository.NewMemoryStockRepository(), conflicts: 2}
		m, err := mutateWithRetry(ctx, repo, 1, 0, scope, func(int32, bool) (int32, error) { return 5, nil })
		require.NoError(t, err)
		assert.Equal(t, int32(5), m.New)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		repo := &conflictingRepo{StockRepository: repository.NewMemoryStockRepository(), conflicts: mutateAttempts}
		_, err := mutateWithRetry(ctx, repo, 1, 0, scope, func(int32, bool) (int32, error) { return 5, nil })
		assert.ErrorIs(t, err, domain.ErrConcurrentConflict)
	})

	t.Run("does not retry domain errors", func(t *testing.T) {
		repo := repository.NewMemoryStockRepository()
		wantErr := errors.New("callback says no")
		_, err := mutateWithRetry(ctx, repo, 1, 0, scope, func(int32, bool) (int32, error) { return 0, wantErr })
		assert.ErrorIs(t, err, wantErr)
	})
}

func TestRecomputeCoalescesConcurrentRequests(t *testing.T) {
	stock := repository.NewMemoryStockRepository()
	invalidator := cache.NewInvalidator(cache.NewMemoryQuantityCache())
	recompute := NewRecomputeAggregateHandler(stock, invalidator)
	ctx := context.Background()
	scope := domain.ShopScope(3)

	for v := uint32(1); v <= 4; v++ {
		_, err := stock.Mutate(ctx, 1, v, scope, func(int32, bool) (int32, error) { return int32(v), nil })
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, recompute.Handle(ctx, 1, scope))
		}()
	}
	wg.Wait()

	sum, err := stock.SumQuantity(ctx, 1, 0, scope)
	require.NoError(t, err)
	assert.Equal(t, int32(10), sum)
}

// stalledFailingRepo blocks the first summation until released, then fails
// every summation.
type stalledFailingRepo struct {
	domain.StockRepository
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
}

func (r *stalledFailingRepo) SumVariants(context.Context, uint32, domain.ScopeKey) (int32, int64, error) {
	r.enterOnce.Do(func() { close(r.entered) })
	<-r.release
	return 0, 0, domain.ErrStorageUnavailable
}

func TestRecomputeFailureReleasesCoalescedKey(t *testing.T) {
	repo := &stalledFailingRepo{
		StockRepository: repository.NewMemoryStockRepository(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	recompute := NewRecomputeAggregateHandler(repo, cache.NewInvalidator(cache.NewMemoryQuantityCache()))
	ctx := context.Background()
	scope := domain.ShopScope(3)

	errCh := make(chan error, 1)
	go func() { errCh <- recompute.Handle(ctx, 1, scope) }()

	<-repo.entered
	// This request coalesces into the stalled pass and returns immediately.
	require.NoError(t, recompute.Handle(ctx, 1, scope))
	close(repo.release)
	assert.ErrorIs(t, <-errCh, domain.ErrStorageUnavailable)

	// A failed pass, even one carrying a coalesced request, must release the
	// key so the next caller gets a fresh pass instead of silently coalescing
	// into a dead one.
	assert.ErrorIs(t, recompute.Handle(ctx, 1, scope), domain.ErrStorageUnavailable)
}
