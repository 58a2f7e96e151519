package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

type EventType string

const (
	EventClientCreated EventType = "client_created"
	EventClientDeleted EventType = "client_deleted"
	EventBotCreated    EventType = "bot_created"
)

// Event is an audit record of a registry mutation. It never carries client
// tokens or bot API keys.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Type       EventType `json:"event_type"`
	ClientKey  string    `json:"client_key,omitempty"`
	BotKey     string    `json:"bot_key,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	ID         int64     `json:"event_id,string"`
	ProposalNo int       `json:"proposal_no,omitempty"`
}

type Producer interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Publish(ctx context.Context, ev Event) error {
	fields := map[string]any{
		"event_id":    strconv.FormatInt(ev.ID, 10),
		"event_type":  string(ev.Type),
		"proposal_no": ev.ProposalNo,
		"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.ClientKey != "" {
		fields["client_key"] = ev.ClientKey
	}
	if ev.BotKey != "" {
		fields["bot_key"] = ev.BotKey
	}
	if ev.Actor != "" {
		fields["actor"] = ev.Actor
	}
	if ev.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ev.TraceID = sc.TraceID().String()
		}
	}
	if ev.TraceID != "" {
		fields["trace_id"] = ev.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}

	p.logger.DebugContext(ctx, "published audit event", "event_id", ev.ID, "event_type", ev.Type, "stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

type noopProducer struct{}

// NewNoopProducer is used when no Redis URL is configured.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) Publish(context.Context, Event) error { return nil }
func (noopProducer) Close() error                         { return nil }
