package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/European-XFEL/zulip-write-only-proxy/core/config"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/queue"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/store"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

// Runtime is everything Configure builds. Close releases the event producer.
// Audit is nil when no Redis URL is configured.
type Runtime struct {
	Services *Services
	Stores   *store.Stores
	Events   queue.Producer
	Audit    *queue.Reader
}

func (r *Runtime) Close() error {
	if r.Events == nil {
		return nil
	}
	return r.Events.Close()
}

// Configure binds the stores to cfg.ConfigDir, loads them and builds the
// upstream clients and services. It is called once at startup.
func Configure(ctx context.Context, cfg config.Config) (*Runtime, error) {
	stores := store.NewStores(cfg.ConfigDir)
	if err := stores.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading stores from %s: %w", cfg.ConfigDir, err)
	}
	slog.InfoContext(ctx, "stores loaded", "config_dir", cfg.ConfigDir)

	metadata, err := mymdc.New(mymdc.Config{
		ClientID:     cfg.MyMdC.ClientID,
		ClientSecret: cfg.MyMdC.ClientSecret,
		Email:        cfg.MyMdC.Email,
		TokenURL:     cfg.MyMdC.TokenURL,
		BaseURL:      cfg.MyMdC.BaseURL,
		Timeout:      cfg.ExternalTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating mymdc client: %w", err)
	}

	events, audit, err := newEvents(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}

	services := NewServices(ServicesConfig{
		Stores:          stores,
		MyMdC:           metadata,
		Zulip:           zulip.NewFactory(&http.Client{Timeout: cfg.ExternalTimeout}),
		EventProducer:   events,
		DefaultSite:     cfg.Zulip.DefaultSite,
		ExternalTimeout: cfg.ExternalTimeout,
	})

	return &Runtime{Services: services, Stores: stores, Events: events, Audit: audit}, nil
}

// newEvents returns the audit producer and a reader on the same stream. Both
// share one Redis client, which the producer's Close releases.
func newEvents(ctx context.Context, cfg config.EventsConfig) (queue.Producer, *queue.Reader, error) {
	if !cfg.Enabled() {
		slog.InfoContext(ctx, "audit events disabled (no redis url configured)")
		return queue.NewNoopProducer(), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("connecting to redis: %w", err), client.Close())
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.RedisStream)

	producer := queue.NewRedisProducer(client, cfg.RedisStream, slog.Default())
	return producer, queue.NewReader(client, cfg.RedisStream, 0), nil
}
