package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

// MessageHistoryLimit bounds GetMessages.
const MessageHistoryLimit = 100

// Session is a resolved client bound to its bot's Zulip handle. It is built
// per request and never stored.
type Session struct {
	Client  *model.ScopedClient
	Bot     *model.BotConfig
	zulip   zulip.Client
	timeout time.Duration
}

// NewSession binds a client and its bot to a Zulip handle.
func NewSession(client *model.ScopedClient, bot *model.BotConfig, zc zulip.Client, timeout time.Duration) *Session {
	return &Session{Client: client, Bot: bot, zulip: zc, timeout: timeout}
}

func (s *Session) stream() (string, error) {
	if s.Client.Stream == nil || *s.Client.Stream == "" {
		return "", ErrNoStreamForClient
	}
	return *s.Client.Stream, nil
}

// SendMessage posts to the client's stream. Clients registered without a
// stream fail here rather than at lookup.
func (s *Session) SendMessage(ctx context.Context, topic, content string) (*zulip.SendMessageResponse, error) {
	stream, err := s.stream()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.zulip.SendMessage(ctx, zulip.SendMessageRequest{
		To:      stream,
		Topic:   topic,
		Content: content,
	})
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return res, nil
}

func (s *Session) UploadFile(ctx context.Context, name string, r io.Reader) (*zulip.UploadFileResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.zulip.UploadFile(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("uploading file: %w", err)
	}
	return res, nil
}

func (s *Session) UpdateMessage(ctx context.Context, req zulip.UpdateMessageRequest) (*zulip.Response, error) {
	if req.PropagateMode != nil && !req.PropagateMode.Valid() {
		return nil, fmt.Errorf("invalid propagate mode %q", *req.PropagateMode)
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.zulip.UpdateMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("updating message %d: %w", req.MessageID, err)
	}
	return res, nil
}

func (s *Session) GetStreamTopics(ctx context.Context) (*zulip.TopicsResponse, error) {
	stream, err := s.stream()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	streamID, err := s.zulip.GetStreamID(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("getting stream id: %w", err)
	}
	res, err := s.zulip.GetStreamTopics(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("getting stream topics: %w", err)
	}
	return res, nil
}

// GetMessages returns the newest messages this bot sent to the client's
// stream, newest first.
func (s *Session) GetMessages(ctx context.Context) ([]zulip.Message, error) {
	stream, err := s.stream()
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.zulip.GetMessages(ctx, zulip.GetMessagesRequest{
		Anchor:    "newest",
		NumBefore: MessageHistoryLimit,
		NumAfter:  0,
		Narrow: []zulip.NarrowTerm{
			{Operator: "sender", Operand: s.Bot.ID},
			{Operator: "stream", Operand: stream},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting messages: %w", err)
	}

	messages := res.Messages
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID > messages[j].ID })
	return messages, nil
}
