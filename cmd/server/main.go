package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/European-XFEL/zulip-write-only-proxy/common/id"
	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
	"github.com/European-XFEL/zulip-write-only-proxy/common/otel"
	"github.com/European-XFEL/zulip-write-only-proxy/core/config"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/middleware"
	httprouter "github.com/European-XFEL/zulip-write-only-proxy/internal/http/router"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg, nil)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "zwop starting", "env", cfg.Env, "version", cfg.OTel.ServiceVersion)
	if err := id.Init(id.NodeServer); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	app, err := service.Configure(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to configure services", "error", err)
		os.Exit(1)
	}

	if cfg.AdminAPIKey == "" {
		slog.WarnContext(ctx, "ZWOP_ADMIN_API_KEY not set, only admin clients can manage clients")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, app.Services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port, "root_path", cfg.ProxyRoot)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if err := app.Close(); err != nil {
		slog.ErrorContext(shutdownCtx, "event producer shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		Version:     cfg.OTel.ServiceVersion,
		ProxyRoot:   cfg.ProxyRoot,
		AdminAPIKey: cfg.AdminAPIKey,
	})

	return router
}

const banner = `
 ______      _____  ____
|_  /\ \ /\ / / _ \|  _ \
 / /  \ V  V / (_) | |_) |
/___|  \_/\_/ \___/|  __/
                   |_|
zulip write-only proxy
`
