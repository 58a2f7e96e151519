package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/dto"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/middleware"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
)

const (
	// TargetKeyHeader carries the token of the client an admin acts on, since
	// X-API-Key holds the admin's own credential.
	TargetKeyHeader = "X-Target-Key"
	UserEmailHeader = "X-User-Email"
)

type ClientHandler struct {
	clientService service.ClientService
}

func NewClientHandler(clientService service.ClientService) *ClientHandler {
	return &ClientHandler{clientService: clientService}
}

func (h *ClientHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	createdBy := strings.TrimSpace(c.GetHeader(UserEmailHeader))
	if createdBy == "" {
		createdBy = middleware.GetActor(ctx)
	}

	client, err := h.clientService.Create(ctx, service.CreateClientParams{
		ProposalNo: req.ProposalNo,
		Stream:     req.Stream,
		BotID:      req.BotID,
		BotSite:    req.BotSite,
	}, createdBy)
	if err != nil {
		writeError(c, err, "failed to create client")
		return
	}

	c.JSON(http.StatusCreated, dto.ToCreateClientResponse(client))
}

func (h *ClientHandler) Schema(c *gin.Context) {
	c.JSON(http.StatusOK, dto.CreateClientSchema())
}

func (h *ClientHandler) List(c *gin.Context) {
	clients, err := h.clientService.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "failed to list clients")
		return
	}
	c.JSON(http.StatusOK, dto.ToClientResponses(clients))
}

func (h *ClientHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	target := c.GetHeader(TargetKeyHeader)
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Bad Request - missing " + TargetKeyHeader + " header"})
		return
	}

	deleted, err := h.clientService.Delete(ctx, target, middleware.GetActor(ctx))
	if err != nil {
		writeError(c, err, "failed to delete client")
		return
	}

	c.JSON(http.StatusOK, gin.H{"detail": "Deleted " + deleted.StoreKey()})
}

func (h *ClientHandler) Messages(c *gin.Context) {
	ctx := c.Request.Context()

	target := c.GetHeader(TargetKeyHeader)
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Bad Request - missing " + TargetKeyHeader + " header"})
		return
	}

	session, err := h.clientService.Get(ctx, target)
	if err != nil {
		writeError(c, err, "failed to resolve client")
		return
	}

	messages, err := session.GetMessages(ctx)
	if err != nil {
		writeError(c, err, "failed to get messages")
		return
	}

	out := make([]dto.MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, dto.MessageResponse{
			Topic:     m.Subject,
			Content:   m.Content,
			ID:        m.ID,
			Timestamp: m.Timestamp,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Bot returns the bot registered under ?key={site-host}/{bot-id}.
func (h *ClientHandler) Bot(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "key query parameter is required"})
		return
	}

	bot, err := h.clientService.GetBot(c.Request.Context(), key)
	if err != nil {
		writeError(c, err, "failed to get bot")
		return
	}
	c.JSON(http.StatusOK, dto.ToBotResponse(bot))
}
