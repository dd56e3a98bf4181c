//go:build wireinject
// +build wireinject

package di

import (
	"MarketHub/pkg/config"
	"MarketHub/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application. The cleanup
// closes infrastructure clients and must run after App.Run returns.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,
		ProvideAnalyticsMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseArchive,
		ProvideBytesCache,

		// Sinks
		ProvideKafkaPublisher,
		ProvideSnapshotCache,
		ProvideSinks,

		// Hub and use cases
		ProvideHub,
		ProvideAnalyzers,
		ProvideAnalysisService,

		// HTTP
		ProvideFeedsHandler,
		ProvideStreamHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
