//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	ircfg "imagereader/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *ircfg.Config) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
