//go:build wireinject
// +build wireinject

package ledger

import (
	"github.com/google/wire"
	"gorm.io/gorm"

	"github.com/tair/stock-ledger/internal/ledger/config"
	"github.com/tair/stock-ledger/internal/ledger/delivery/events"
	"github.com/tair/stock-ledger/internal/ledger/delivery/http"
	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/internal/ledger/repository"
	"github.com/tair/stock-ledger/internal/ledger/usecase/command"
	"github.com/tair/stock-ledger/internal/ledger/usecase/query"
)

// ProvideStockRepository provides the stock repository wrapped with tracing
func ProvideStockRepository(db *gorm.DB) domain.StockRepository {
	return repository.NewTracingStockRepository(repository.NewGormStockRepository(db))
}

// ProvideMovementRepository provides the movement ledger repository
func ProvideMovementRepository(db *gorm.DB) domain.MovementRepository {
	return repository.NewGormMovementRepository(db)
}

// ProvideTopologyProvider provides the shop topology source
func ProvideTopologyProvider(db *gorm.DB) domain.TopologyProvider {
	return repository.NewGormTopologyProvider(db)
}

// ProvideScopeResolver provides the shop scope resolver
func ProvideScopeResolver(topology domain.TopologyProvider, cfg *config.Config) *domain.ScopeResolver {
	return domain.NewScopeResolver(topology, cfg.DefaultShopID)
}

// ProvideConfigStore exposes the loaded config as the policy source
func ProvideConfigStore(cfg *config.Config) domain.ConfigStore {
	return cfg
}

// ProvideBounds provides the configured quantity range
func ProvideBounds(cfg *config.Config) domain.QuantityBounds {
	return cfg.Bounds()
}

// ProvideHandlers bundles the use case handlers for the HTTP layer
func ProvideHandlers(
	adjust *command.AdjustQuantityHandler,
	set *command.SetQuantityHandler,
	setLocation *command.SetLocationHandler,
	remove *command.RemoveProductHandler,
	getQuantity *query.GetQuantityHandler,
	policy *query.EffectivePolicyHandler,
	getLocation *query.GetLocationHandler,
	movements *query.ListMovementsHandler,
) http.Handlers {
	return http.Handlers{
		AdjustQuantity:  adjust,
		SetQuantity:     set,
		SetLocation:     setLocation,
		RemoveProduct:   remove,
		GetQuantity:     getQuantity,
		EffectivePolicy: policy,
		GetLocation:     getLocation,
		ListMovements:   movements,
	}
}

// Wire sets
var RepositorySet = wire.NewSet(
	ProvideStockRepository,
	ProvideMovementRepository,
	ProvideTopologyProvider,
)

var UseCaseSet = wire.NewSet(
	command.NewAdjustQuantityHandler,
	command.NewSetQuantityHandler,
	command.NewSetLocationHandler,
	command.NewRemoveProductHandler,
	command.NewRecomputeAggregateHandler,
	query.NewGetQuantityHandler,
	query.NewEffectivePolicyHandler,
	query.NewGetLocationHandler,
	query.NewListMovementsHandler,
)

// InitializeApplication initializes the ledger application with all
// dependencies. Cache, invalidator, and notifier are constructed by the
// caller because their lifecycles outlive a single request.
func InitializeApplication(
	db *gorm.DB,
	cache domain.QuantityCache,
	invalidator domain.CacheInvalidator,
	notifier domain.Notifier,
	cfg *config.Config,
) (*Application, error) {
	wire.Build(
		RepositorySet,
		UseCaseSet,
		ProvideScopeResolver,
		ProvideConfigStore,
		ProvideBounds,
		ProvideHandlers,
		http.NewLedgerHandler,
		events.NewOrderHandler,
		NewApplication,
	)
	return nil, nil
}
