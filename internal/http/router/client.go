package router

import (
	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/handler"
)

func ClientRouter(rg *gin.RouterGroup, h *handler.ClientHandler) {
	rg.POST("/create", h.Create)
	rg.GET("/create/schema", h.Schema)
	rg.GET("/list", h.List)
	rg.DELETE("/", h.Delete)
	rg.GET("/messages", h.Messages)
	rg.GET("/bot", h.Bot)
}
