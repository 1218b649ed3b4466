package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
	"github.com/yourusername/pdf-squeeze/internal/progress"
	"github.com/yourusername/pdf-squeeze/internal/session"
	"github.com/yourusername/pdf-squeeze/internal/ws"
)

const shutdownTimeout = 30 * time.Second

// application は起動時に組み立てる依存関係の集まりです。
type application struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	registry *session.Registry
	service  *pdf.Service
	store    jobs.Store
	manager  *jobs.Manager
	closers  []func() error
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger, err := logging.New(cfg.GinMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.close(); err != nil {
			logger.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode), zap.String("engine", cfg.CompressEngine))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-signalCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	registry := session.NewRegistry()
	publisher := progress.NewPublisher(registry, logger.Named("publisher"))

	engine, err := pdf.NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
	}

	store, closeStore, err := newJobStore(cfg)
	if err != nil {
		return nil, err
	}
	app.store = store
	app.closers = append(app.closers, closeStore)

	app.service, err = pdf.NewService(cfg, engine, publisher, store, logger.Named("pdf"))
	if err != nil {
		_ = app.close()
		return nil, err
	}

	if cfg.AsyncThresholdBytes > 0 {
		app.manager, err = setupJobs(cfg, app.service, store, logger.Named("jobs"))
		if err != nil {
			_ = app.close()
			return nil, err
		}
		app.closers = append(app.closers, app.manager.Shutdown)
	}

	wsHandler := ws.NewHandler(registry, ws.Options{
		PingInterval:   cfg.WSPingInterval,
		PongTimeout:    cfg.WSPongTimeout,
		WriteTimeout:   cfg.WSWriteTimeout,
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.AllowedOrigins(),
	}, logger.Named("ws"))

	app.router = newRouter(cfg, logger, app.routes(wsHandler))
	return app, nil
}

// close は登録順と逆に後始末を行います。
func (a *application) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func newRouter(cfg *config.Config, logger *zap.Logger, register func(*gin.Engine)) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger(logger.Named("http")))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	// ダウンロード時にジョブIDとファイル名を読めるように公開
	corsConfig.ExposeHeaders = []string{"X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	register(router)
	return router
}

func (a *application) routes(wsHandler *ws.Handler) func(*gin.Engine) {
	return func(router *gin.Engine) {
		router.GET("/", handleRoot)
		router.GET("/health", handleHealth)

		opts := pdf.HandlerOptions{
			MaxUploadBytes: a.cfg.MaxUploadBytes,
			Logger:         a.logger.Named("compress"),
		}
		if a.manager != nil {
			opts.Scheduler = &pdfJobScheduler{manager: a.manager}
			opts.AsyncThresholdBytes = a.cfg.AsyncThresholdBytes
		}
		router.POST("/compress", pdf.CompressHandler(a.service, opts))
		router.GET("/ws", wsHandler.ServeWS)

		router.GET("/jobs/:id", jobStatusHandler(a.store))
		router.GET("/jobs/:id/download", jobDownloadHandler(a.store, a.service))
	}
}

// handleRoot は API 名とバージョンを返します。
func handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api":          apiName,
		"version":      version,
		"date_created": time.Now().UTC().Format("02-01-2006"),
	})
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": version,
	})
}
