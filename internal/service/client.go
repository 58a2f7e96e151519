package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/European-XFEL/zulip-write-only-proxy/common/id"
	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/queue"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/store"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

const TokenLength = 32

// CreateClientParams are the inputs of a scoped client registration. Stream
// and bot fields are optional and resolved from MyMdC when absent.
type CreateClientParams struct {
	Stream     *string
	BotID      *int64
	BotSite    *string
	ProposalNo int
}

type ClientService interface {
	Create(ctx context.Context, params CreateClientParams, createdBy string) (*model.ScopedClient, error)
	CreateAdmin(ctx context.Context, createdBy string) (*model.ScopedClient, error)
	// Authenticate resolves a token to its client without touching bots.
	Authenticate(ctx context.Context, token string) (*model.ScopedClient, error)
	// Get resolves a token to a session bound to the client's bot.
	Get(ctx context.Context, token string) (*Session, error)
	GetBot(ctx context.Context, key string) (*model.BotConfig, error)
	List(ctx context.Context) ([]*model.ScopedClient, error)
	Delete(ctx context.Context, token, actor string) (*model.ScopedClient, error)
}

type clientService struct {
	clients     store.ClientStore
	bots        BotService
	botStore    store.BotStore
	metadata    mymdc.Client
	zulip       zulip.Factory
	events      queue.Producer
	defaultSite string
	timeout     time.Duration
	now         func() time.Time
}

func NewClientService(
	clients store.ClientStore,
	botStore store.BotStore,
	bots BotService,
	metadata mymdc.Client,
	zulipFactory zulip.Factory,
	events queue.Producer,
	defaultSite string,
	timeout time.Duration,
) ClientService {
	if events == nil {
		events = queue.NewNoopProducer()
	}
	if defaultSite == "" {
		defaultSite = model.DefaultBotSite
	}
	return &clientService{
		clients:     clients,
		bots:        bots,
		botStore:    botStore,
		metadata:    metadata,
		zulip:       zulipFactory,
		events:      events,
		defaultSite: defaultSite,
		timeout:     timeout,
		now:         time.Now,
	}
}

func (s *clientService) Create(ctx context.Context, params CreateClientParams, createdBy string) (*model.ScopedClient, error) {
	if params.ProposalNo <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProposal, params.ProposalNo)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProposalNo: logger.Ptr(params.ProposalNo),
		ClientKind: logger.Ptr(string(model.ClientKindScoped)),
		Component:  "zwop.service.client",
	})

	sc := logger.StartSpan(ctx, "service.client.create", attribute.Int("proposal_no", params.ProposalNo))
	defer sc.End()
	ctx = sc.Context()

	proposalID, err := s.proposalID(ctx, params.ProposalNo)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	stream := params.Stream
	if stream == nil {
		name, err := s.streamName(ctx, params.ProposalNo)
		switch {
		case err == nil:
			stream = &name
		case errors.Is(err, mymdc.ErrNoStreamForProposal):
			slog.WarnContext(ctx, "no stream configured for proposal, registering client without one")
		default:
			sc.RecordError(err)
			return nil, err
		}
	}

	site := s.defaultSite
	if params.BotSite != nil && *params.BotSite != "" {
		site = *params.BotSite
	}

	bot, err := s.bots.GetOrCreate(ctx, BotRequest{
		ProposalNo: params.ProposalNo,
		Site:       site,
		BotID:      params.BotID,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNoBotConfigured):
		slog.WarnContext(ctx, "no bot configured for proposal, registering client without one")
		bot = nil
	default:
		sc.RecordError(err)
		return nil, fmt.Errorf("resolving bot: %w", err)
	}

	token, err := generateSecureToken(TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	client := &model.ScopedClient{
		Kind:       model.ClientKindScoped,
		ProposalNo: params.ProposalNo,
		ProposalID: proposalID,
		Stream:     stream,
		Token:      model.NewSecret(token),
		CreatedBy:  createdBy,
		CreatedAt:  s.now().UTC(),
	}
	if bot != nil {
		client.BotID = logger.Ptr(bot.ID)
		client.BotSite = logger.Ptr(bot.Site)
	}

	if err := s.insert(ctx, client); err != nil {
		sc.RecordError(err)
		return nil, err
	}
	return client, nil
}

func (s *clientService) CreateAdmin(ctx context.Context, createdBy string) (*model.ScopedClient, error) {
	if createdBy == "" {
		return nil, errors.New("admin client requires a creator")
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ClientKind: logger.Ptr(string(model.ClientKindAdmin)),
		Component:  "zwop.service.client",
	})

	token, err := generateSecureToken(TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	client := &model.ScopedClient{
		Kind:      model.ClientKindAdmin,
		Token:     model.NewSecret(token),
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.insert(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *clientService) insert(ctx context.Context, client *model.ScopedClient) error {
	if err := s.clients.Insert(ctx, client); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s", ErrClientExists, client.StoreKey())
		}
		return fmt.Errorf("inserting client: %w", err)
	}

	slog.InfoContext(ctx, "client registered",
		"client_key", client.StoreKey(),
		"has_stream", client.Stream != nil,
		"has_bot", client.HasBot())

	s.publish(ctx, queue.EventClientCreated, client, client.CreatedBy)
	return nil
}

func (s *clientService) Authenticate(ctx context.Context, token string) (*model.ScopedClient, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	client, err := s.clients.GetBy(ctx, "token", token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorised
		}
		return nil, fmt.Errorf("looking up client: %w", err)
	}
	return client, nil
}

func (s *clientService) Get(ctx context.Context, token string) (*Session, error) {
	client, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	key, err := client.BotKey()
	if err != nil {
		return nil, err
	}

	bot, err := s.botStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: bot %s is not registered", ErrNoBotForClient, key)
		}
		return nil, fmt.Errorf("getting bot: %w", err)
	}

	return NewSession(client, bot, s.zulip(zulip.Credentials{
		Email: bot.Email,
		Key:   bot.Key.Reveal(),
		Site:  bot.Site,
	}), s.timeout), nil
}

func (s *clientService) GetBot(ctx context.Context, key string) (*model.BotConfig, error) {
	return s.bots.Get(ctx, key)
}

func (s *clientService) List(ctx context.Context) ([]*model.ScopedClient, error) {
	return s.clients.List(ctx)
}

func (s *clientService) Delete(ctx context.Context, token, actor string) (*model.ScopedClient, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	client, err := s.clients.DeleteBy(ctx, "token", token)
	if err != nil {
		return nil, fmt.Errorf("deleting client: %w", err)
	}

	slog.InfoContext(ctx, "client deleted", "client_key", client.StoreKey(), "actor", actor)
	s.publish(ctx, queue.EventClientDeleted, client, actor)
	return client, nil
}

func (s *clientService) proposalID(ctx context.Context, proposalNo int) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	proposalID, err := s.metadata.GetProposalID(ctx, proposalNo)
	if err != nil {
		return 0, fmt.Errorf("getting proposal id: %w", err)
	}
	return proposalID, nil
}

func (s *clientService) streamName(ctx context.Context, proposalNo int) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	name, err := s.metadata.GetZulipStreamName(ctx, proposalNo)
	if err != nil {
		return "", fmt.Errorf("getting stream name: %w", err)
	}
	return name, nil
}

func (s *clientService) publish(ctx context.Context, typ queue.EventType, client *model.ScopedClient, actor string) {
	ev := queue.Event{
		ID:         id.New(),
		Type:       typ,
		ClientKey:  client.StoreKey(),
		ProposalNo: client.ProposalNo,
		Actor:      actor,
		OccurredAt: s.now(),
	}
	if key, err := client.BotKey(); err == nil {
		ev.BotKey = key
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "failed to publish client event", "error", err, "event_type", typ)
	}
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
