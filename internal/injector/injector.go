//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/hubsync/internal/briefcase"
	"github.com/zeusync/hubsync/internal/config"
	"github.com/zeusync/hubsync/internal/core/hub"
	"github.com/zeusync/hubsync/internal/core/observability/log"
	"github.com/zeusync/hubsync/internal/storage/state"
)

func InitializeBriefcase(cfg *config.Config, db briefcase.LocalDB, client hub.RepositoryClient) (*briefcase.Briefcase, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}

func InitializeStateStore(cfg *config.Config) (state.Store, func(), error) {
	wire.Build(ProvideStateStore)
	return nil, nil, nil
}

func InitializeLogger(cfg *config.Config) (log.Log, error) {
	wire.Build(ProvideLogger)
	return nil, nil
}
