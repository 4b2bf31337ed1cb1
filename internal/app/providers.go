package app

import (
	"context"

	ircfg "imagereader/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *ircfg.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}
