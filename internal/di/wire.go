//go:build wireinject
// +build wireinject

package di

import (
	"StockAlert/pkg/config"
	"StockAlert/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// The returned cleanup closes connections in reverse order of creation.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvidePostgres,
		ProvideTriggerHistory,
		ProvideRedisClient,
		ProvideCache,
		ProvideBroker,

		// Repositories and bus
		ProvideAlertStore,
		ProvideEventBus,
		ProvideSnapshots,

		// Use cases
		ProvideAlertService,
		ProvideRetryQueue,
		ProvideChannels,
		ProvideWorkers,
		ProvideSweeper,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
