package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/store"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

// writeError maps service and upstream errors to a status and a
// {"detail": ...} body.
func writeError(c *gin.Context, err error, fallback string) {
	ctx := c.Request.Context()

	var (
		mymdcErr *mymdc.ResponseError
		zulipErr *zulip.APIError
	)

	switch {
	case errors.Is(err, service.ErrNotAuthenticated), errors.Is(err, service.ErrUnauthorised):
		c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
	case errors.Is(err, service.ErrNotAdmin), errors.Is(err, service.ErrNotScoped):
		c.JSON(http.StatusForbidden, gin.H{"detail": err.Error()})
	case errors.Is(err, service.ErrNoBotForClient),
		errors.Is(err, service.ErrNoStreamForClient),
		errors.Is(err, service.ErrNoSuchProposal),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, service.ErrClientExists):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	case errors.Is(err, service.ErrInvalidProposal), errors.Is(err, service.ErrProposalUndetermined):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, service.ErrNoBotConfigured), errors.Is(err, service.ErrBotProfile):
		slog.WarnContext(ctx, fallback, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"detail": err.Error()})
	case errors.As(err, &mymdcErr):
		slog.WarnContext(ctx, "mymdc returned an error", "status", mymdcErr.StatusCode, "path", mymdcErr.Path)
		c.JSON(upstreamStatus(mymdcErr.StatusCode), gin.H{"detail": mymdcErr.Body, "upstream": "mymdc"})
	case errors.As(err, &zulipErr):
		slog.WarnContext(ctx, "zulip returned an error", "status", zulipErr.StatusCode, "code", zulipErr.Code)
		c.JSON(upstreamStatus(zulipErr.StatusCode), gin.H{
			"result": zulipErr.Result,
			"msg":    zulipErr.Msg,
			"code":   zulipErr.Code,
		})
	default:
		slog.ErrorContext(ctx, fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fallback})
	}
}

// upstreamStatus passes 4xx through and reports anything else as a bad
// gateway.
func upstreamStatus(status int) int {
	if status >= 400 && status < 500 {
		return status
	}
	return http.StatusBadGateway
}
