package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/dto"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/middleware"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

// MaxUploadSize bounds request bodies on the message routes.
const MaxUploadSize = 32 << 20

// APIHandler serves the write-only message API. Every route runs behind
// middleware.RequireSession.
type APIHandler struct{}

func NewAPIHandler() *APIHandler {
	return &APIHandler{}
}

func (h *APIHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.GetSession(ctx)

	topic := c.Query("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "topic query parameter is required"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)
	content := c.PostForm("content")
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "content is required"})
		return
	}

	image, err := c.FormFile("image")
	switch {
	case err == nil:
		uri, err := upload(c, session.UploadFile, image)
		if err != nil {
			writeError(c, err, "failed to upload image")
			return
		}
		content += "\n[](" + uri + ")"
	case errors.Is(err, http.ErrMissingFile):
	default:
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	res, err := session.SendMessage(ctx, topic, content)
	if err != nil {
		writeError(c, err, "failed to send message")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) UpdateMessage(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.GetSession(ctx)

	messageID, err := strconv.ParseInt(c.Query("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message_id query parameter must be a positive integer"})
		return
	}

	req := zulip.UpdateMessageRequest{MessageID: messageID}

	if topic := c.Query("topic"); topic != "" {
		req.Topic = &topic
	}
	if mode := c.Query("propagate_mode"); mode != "" {
		pm := zulip.PropagateMode(mode)
		if !pm.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "propagate_mode must be one of change_one, change_later, change_all"})
			return
		}
		req.PropagateMode = &pm
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "message content is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read body"})
		return
	}
	if len(body) > 0 {
		content := string(body)
		req.Content = &content
	}

	if req.Content == nil && req.Topic == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": "Either content (update message text) or topic (rename message topic) must be provided",
		})
		return
	}

	res, err := session.UpdateMessage(ctx, req)
	if err != nil {
		writeError(c, err, "failed to update message")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) UploadFile(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.GetSession(ctx)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read file"})
		return
	}
	defer f.Close()

	res, err := session.UploadFile(ctx, file.Filename, f)
	if err != nil {
		writeError(c, err, "failed to upload file")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) GetStreamTopics(c *gin.Context) {
	ctx := c.Request.Context()

	res, err := middleware.GetSession(ctx).GetStreamTopics(ctx)
	if err != nil {
		writeError(c, err, "failed to get stream topics")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) Me(c *gin.Context) {
	session := middleware.GetSession(c.Request.Context())
	c.JSON(http.StatusOK, dto.ToClientResponse(session.Client))
}

type uploadFunc func(ctx context.Context, name string, r io.Reader) (*zulip.UploadFileResponse, error)

func upload(c *gin.Context, fn uploadFunc, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	res, err := fn(c.Request.Context(), fh.Filename, f)
	if err != nil {
		return "", err
	}
	slog.DebugContext(c.Request.Context(), "uploaded attachment", "uri", res.URI)
	return res.URI, nil
}
