package app

import (
	"context"
	"fmt"

	"imagereader/internal/analysis"
	ircfg "imagereader/internal/config"
	"imagereader/internal/gateway/provider"
	"imagereader/internal/imagecodec"
	"imagereader/internal/logger"
	"imagereader/internal/metrics"
	"imagereader/internal/prompt"
	"imagereader/internal/session"
	"imagereader/internal/store/history"
	webhttp "imagereader/internal/transport/http/web"
)

type AppBuilder struct {
	cfg *ircfg.Config

	providerFn func(ircfg.ModelConfig) (provider.ModelProvider, error)
	promptsFn  func(string) (*prompt.Catalog, error)
	historyFn  func(string) (*history.Store, error)
}

type AppBuilderOption func(*AppBuilder)

// WithProvider replaces the model client, e.g. with a stub in tests.
func WithProvider(fn func(ircfg.ModelConfig) (provider.ModelProvider, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.providerFn = fn }
}

func NewAppBuilder(cfg *ircfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		providerFn: buildModelProvider,
		promptsFn:  prompt.Open,
		historyFn:  history.Open,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildModelProvider(cfg ircfg.ModelConfig) (provider.ModelProvider, error) {
	return provider.BuildFromConfig(provider.ModelCfg{
		Provider:         cfg.Provider,
		APIURL:           cfg.APIURL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Headers:          cfg.Headers,
		Temperature:      cfg.Temperature,
		Timeout:          cfg.Timeout(),
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown(),
	})
}

// Core is everything needed to analyse an image, without any front end.
type Core struct {
	Model        provider.ModelProvider
	Prompts      *prompt.Catalog
	History      *history.Store
	Orchestrator *analysis.Orchestrator
}

func (c *Core) Close() error {
	if c == nil || c.History == nil {
		return nil
	}
	return c.History.Close()
}

// BuildCore wires codec, model client, prompts and history into an orchestrator.
func (b *AppBuilder) BuildCore() (*Core, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	catalog, err := b.promptsFn(cfg.Prompts.Path)
	if err != nil {
		return nil, fmt.Errorf("load prompts failed: %w", err)
	}
	if cfg.Prompts.Watch {
		if err := catalog.Watch(); err != nil {
			logger.Warnf("prompt hot reload disabled: %v", err)
		}
	}
	model, err := b.providerFn(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init model provider failed: %w", err)
	}
	codec := imagecodec.NewCodec(imagecodec.Options{
		MaxDimension: cfg.Image.MaxDimension,
		AutoOrient:   cfg.Image.AutoOrient,
		MaxPixels:    cfg.Image.MaxPixels,
	})

	metrics.Register()
	opts := analysis.Options{Parallel: cfg.Analysis.Parallel, Observer: metrics.Observer{}}
	var hist *history.Store
	if cfg.History.Enabled() {
		hist, err = b.historyFn(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history failed: %w", err)
		}
		opts.Recorder = hist
	}
	return &Core{
		Model:        model,
		Prompts:      catalog,
		History:      hist,
		Orchestrator: analysis.NewOrchestrator(codec, model, catalog, opts),
	}, nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	core, err := b.BuildCore()
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(cfg.Session.TTL())
	sessions.SetLimit(cfg.Session.MaxSessions)
	sessions.OnChange(metrics.SetSessions)

	srvCfg := webhttp.ServerConfig{
		Addr:           cfg.App.HTTPAddr,
		Model:          core.Model.ID(),
		Analyzer:       core.Orchestrator,
		Sessions:       sessions,
		Prompts:        core.Prompts,
		Metrics:        metrics.Handler(),
		CookieName:     cfg.Session.CookieName,
		SessionTTL:     cfg.Session.TTL(),
		MaxUploadBytes: cfg.Upload.MaxBytes,
		RecentLimit:    cfg.History.RecentLimit,
	}
	if core.History != nil {
		srvCfg.History = core.History
	}
	server, err := webhttp.NewServer(srvCfg)
	if err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())

	return &App{
		cfg:      cfg,
		core:     core,
		server:   server,
		sessions: sessions,
		Summary:  newStartupSummary(cfg, core),
	}, nil
}
