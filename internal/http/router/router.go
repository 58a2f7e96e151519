package router

import (
	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/handler"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/middleware"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
)

type RouterConfig struct {
	Version     string
	ProxyRoot   string
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.ProxyRoot)
	router.GET("/health", healthHandler.Health)
	router.GET("/api/health", healthHandler.Health)

	requireSession := middleware.RequireSession(services.Clients())

	api := router.Group("/api", requireSession)
	{
		APIRouter(api, handler.NewAPIHandler())
		MyMdCRouter(api.Group("/mymdc"), handler.NewMyMdCHandler(services.MyMdCProxy()))
	}

	clients := router.Group("/client", middleware.RequireAdmin(services.Clients(), cfg.AdminAPIKey))
	ClientRouter(clients, handler.NewClientHandler(services.Clients()))
}
