package webhttp

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"imagereader/internal/analysis"
	"imagereader/internal/logger"
	"imagereader/internal/prompt"
	"imagereader/internal/session"
	"imagereader/internal/store/history"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Analyzer runs one analysis into the given session state.
type Analyzer interface {
	Analyze(ctx context.Context, state *analysis.State, img analysis.UploadedImage) (analysis.Result, error)
}

// HistoryReader lists past analyses of one session.
type HistoryReader interface {
	RecentForSession(ctx context.Context, sessionID string, limit int) ([]history.Record, error)
}

type PromptSource interface {
	Specs() []prompt.Spec
}

// Server 提供上传页面、JSON 接口与运维端点。
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr           string
	Model          string
	Analyzer       Analyzer
	Sessions       *session.Manager
	Prompts        PromptSource
	History        HistoryReader // nil 表示未开启历史记录
	Metrics        http.Handler
	CookieName     string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	RecentLimit    int
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Analyzer == nil || cfg.Sessions == nil || cfg.Prompts == nil {
		return nil, errors.New("web server requires analyzer, sessions and prompts")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8501"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "imagereader_session"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 20
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	// multipart 解析上限与上传限制保持一致，超出部分落盘
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	if err := loadTemplates(router); err != nil {
		return nil, err
	}
	if err := serveStatic(router); err != nil {
		return nil, err
	}

	h := &handler{cfg: cfg}
	router.GET("/", h.page)
	router.POST("/analyze", h.analyzeForm)
	router.POST("/clear", h.clear)
	api := router.Group("/api")
	api.POST("/analyze", h.analyzeAPI)
	api.GET("/session", h.sessionAPI)
	api.GET("/history", h.historyAPI)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "model": cfg.Model, "sessions": cfg.Sessions.Len()})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return &Server{addr: cfg.Addr, router: router}, nil
}

func loadTemplates(router *gin.Engine) error {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no templates found in embedded FS")
	}
	tmpl, err := template.New("page").Funcs(templateFuncs).ParseFS(templateFS, files...)
	if err != nil {
		return err
	}
	router.SetHTMLTemplate(tmpl)
	return nil
}

func serveStatic(router *gin.Engine) error {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return err
	}
	router.StaticFS("/static", http.FS(sub))
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("web server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
