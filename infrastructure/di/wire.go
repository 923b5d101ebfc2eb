//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"communitysync/application/ports"
	"communitysync/infrastructure/cache"
	"communitysync/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideMetrics,
	ProvideTracer,
	ProvideEventPublisher,
	ProvideSnapshotStore,
	ProvideClientFactory,
	ProvideSessionCache,
	ProvideSessionManager,
	ProvideJWTValidator,
	ProvideRateLimiter,
	ProvideRouter,
	wire.Bind(new(ports.Cache), new(*cache.InMemoryCache)),
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The returned
// cleanup stops background work.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
