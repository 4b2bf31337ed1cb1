package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	ircfg "imagereader/internal/config"
	"imagereader/internal/logger"
	"imagereader/internal/session"
	webhttp "imagereader/internal/transport/http/web"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与会话清理。
type App struct {
	cfg      *ircfg.Config
	core     *Core
	server   *webhttp.Server
	sessions *session.Manager
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *ircfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves until ctx is cancelled, then releases the history store.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.core.Close(); err != nil {
			logger.Warnf("close history store failed: %v", err)
		}
	}()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.sweepSessions(ctx)
		return nil
	})
	return group.Wait()
}

func (a *App) sweepSessions(ctx context.Context) {
	interval := a.cfg.Session.TTL() / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.sessions.Sweep(now)
		}
	}
}

func (a *App) Server() *webhttp.Server {
	if a == nil {
		return nil
	}
	return a.server
}
