package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
)

// Reader reads audit events back from the stream the producer writes to. It
// never acknowledges or trims; the stream is an append-only log.
type Reader struct {
	client *redis.Client
	stream string
	block  time.Duration
}

func NewReader(client *redis.Client, stream string, block time.Duration) *Reader {
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Reader{client: client, stream: stream, block: block}
}

// Recent returns up to count events, newest first.
func (r *Reader) Recent(ctx context.Context, count int64) ([]Event, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading stream %s: %w", r.stream, err)
	}
	return r.parseAll(ctx, msgs), nil
}

// Follow calls fn for each event appended after the call starts, until ctx is
// done or fn fails.
func (r *Reader) Follow(ctx context.Context, fn func(Event) error) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "zwop.queue.reader"})
	lastID := "$"

	for {
		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, lastID},
			Block:   r.block,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("reading stream %s: %w", r.stream, err)
		}

		for _, stream := range streams {
			for _, ev := range r.parseAll(ctx, stream.Messages) {
				if err := fn(ev); err != nil {
					return err
				}
			}
			if n := len(stream.Messages); n > 0 {
				lastID = stream.Messages[n-1].ID
			}
		}
	}
}

func (r *Reader) parseAll(ctx context.Context, msgs []redis.XMessage) []Event {
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := ParseEvent(msg)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed audit event",
				"error", err,
				"message_id", msg.ID,
				"stream", r.stream)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// ParseEvent decodes a stream entry written by the producer.
func ParseEvent(msg redis.XMessage) (Event, error) {
	id, err := parseInt64(msg.Values, "event_id")
	if err != nil {
		return Event{}, err
	}
	eventType, err := parseString(msg.Values, "event_type")
	if err != nil {
		return Event{}, err
	}
	switch t := EventType(eventType); t {
	case EventClientCreated, EventClientDeleted, EventBotCreated:
	default:
		return Event{}, fmt.Errorf("unknown event_type %q", t)
	}

	proposalNo, err := parseOptionalInt(msg.Values, "proposal_no")
	if err != nil {
		return Event{}, err
	}

	occurred, err := parseString(msg.Values, "occurred_at")
	if err != nil {
		return Event{}, err
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, occurred)
	if err != nil {
		return Event{}, fmt.Errorf("parsing occurred_at: %w", err)
	}

	return Event{
		OccurredAt: occurredAt,
		Type:       EventType(eventType),
		ClientKey:  parseOptionalString(msg.Values, "client_key"),
		BotKey:     parseOptionalString(msg.Values, "bot_key"),
		Actor:      parseOptionalString(msg.Values, "actor"),
		TraceID:    parseOptionalString(msg.Values, "trace_id"),
		ID:         id,
		ProposalNo: proposalNo,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
