package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	version   string
	proxyRoot string
}

func NewHealthHandler(version, proxyRoot string) *HealthHandler {
	return &HealthHandler{version: version, proxyRoot: proxyRoot}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"version":   h.version,
		"dirty":     strings.Contains(h.version, "dirty"),
		"dev":       strings.Contains(h.version, "+") || h.version == "dev",
		"root_path": h.proxyRoot,
	})
}
