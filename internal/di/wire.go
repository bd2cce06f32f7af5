//go:build wireinject
// +build wireinject

package di

import (
	"BrentBreaks/pkg/config"
	"BrentBreaks/pkg/server"

	"github.com/google/wire"
)

// InfraSet holds clients for external systems. Each provider returns nil
// when its system is disabled in config.
var InfraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideTracing,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvideRedisCache,
	ProvideCache,
	ProvideSnapshotArchive,
	ProvideKafkaConsumer,
)

// AnalysisSet holds repositories and use cases.
var AnalysisSet = wire.NewSet(
	ProvideSnapshotStore,
	ProvidePriceSource,
	ProvideEventSource,
	ProvideDatasetService,
	ProvidePublisher,
	ProvideRunFeed,
	ProvideRunner,
	ProvideQueue,
	ProvideScheduler,
	ProvideQueryService,
	ProvideRefreshHandler,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		InfraSet,
		AnalysisSet,
		ProvideRateLimiter,
		ProvideBrentHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
