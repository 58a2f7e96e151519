package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/European-XFEL/zulip-write-only-proxy/common/id"
	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/queue"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/store"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

// BotRequest describes the bot to resolve. Empty Email/Key are fetched from
// MyMdC, a nil BotID from the bot's own Zulip profile, an empty Site falls
// back to the default site.
type BotRequest struct {
	BotID      *int64
	Email      string
	Key        string
	Site       string
	ProposalNo int
}

type BotService interface {
	GetOrCreate(ctx context.Context, req BotRequest) (*model.BotConfig, error)
	Get(ctx context.Context, key string) (*model.BotConfig, error)
	List(ctx context.Context) ([]*model.BotConfig, error)
}

type botService struct {
	bots        store.BotStore
	metadata    mymdc.Client
	zulip       zulip.Factory
	events      queue.Producer
	group       singleflight.Group
	defaultSite string
	timeout     time.Duration
	now         func() time.Time
}

func NewBotService(
	bots store.BotStore,
	metadata mymdc.Client,
	zulipFactory zulip.Factory,
	events queue.Producer,
	defaultSite string,
	timeout time.Duration,
) BotService {
	if events == nil {
		events = queue.NewNoopProducer()
	}
	if defaultSite == "" {
		defaultSite = model.DefaultBotSite
	}
	return &botService{
		bots:        bots,
		metadata:    metadata,
		zulip:       zulipFactory,
		events:      events,
		defaultSite: defaultSite,
		timeout:     timeout,
		now:         time.Now,
	}
}

// GetOrCreate is the only place new bot identities are minted. It returns the
// stored bot when site and id are known, otherwise resolves credentials and
// id upstream and inserts exactly one BotConfig per {site-host}/{bot-id}.
func (s *botService) GetOrCreate(ctx context.Context, req BotRequest) (*model.BotConfig, error) {
	if req.Site == "" {
		req.Site = s.defaultSite
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProposalNo: logger.Ptr(req.ProposalNo),
		Component:  "zwop.service.bot",
	})

	if req.BotID != nil {
		bot, err := s.bots.Get(ctx, model.BotKey(req.Site, *req.BotID))
		if err == nil {
			return bot, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("getting bot: %w", err)
		}
	}

	// The flight outlives any single caller: each upstream call inside is
	// bounded by s.timeout, and callers stop waiting on their own ctx.
	flight := s.group.DoChan(flightKey(req), func() (any, error) {
		return s.create(context.WithoutCancel(ctx), req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "bot resolution shared with concurrent caller")
		}
		return res.Val.(*model.BotConfig), nil
	}
}

func (s *botService) create(ctx context.Context, req BotRequest) (*model.BotConfig, error) {
	sc := logger.StartSpan(ctx, "service.bot.create", attribute.Int("proposal_no", req.ProposalNo))
	defer sc.End()
	ctx = sc.Context()

	email, key := req.Email, req.Key
	if email == "" || key == "" {
		creds, err := s.fetchCredentials(ctx, req.ProposalNo)
		if err != nil {
			sc.RecordError(err)
			return nil, err
		}
		email, key = creds.Email, creds.Key
	}

	bot := &model.BotConfig{
		Site:       req.Site,
		Email:      email,
		Key:        model.NewSecret(key),
		ProposalNo: req.ProposalNo,
	}

	if req.BotID != nil {
		bot.ID = *req.BotID
	} else {
		profile, err := s.fetchProfile(ctx, bot)
		if err != nil {
			sc.RecordError(err)
			return nil, err
		}
		bot.ID = profile.UserID
		bot.CreatedAt = profile.JoinedAt()
	}
	if bot.CreatedAt == nil {
		bot.CreatedAt = logger.Ptr(s.now().UTC())
	}

	botKey := bot.StoreKey()
	sc.SetAttributes(attribute.String("bot_key", botKey))
	ctx = logger.WithLogFields(ctx, logger.LogFields{BotKey: &botKey})

	if err := s.bots.Insert(ctx, bot); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			sc.RecordError(err)
			return nil, fmt.Errorf("inserting bot: %w", err)
		}
		// created by someone else since the fast path check
		existing, getErr := s.bots.Get(ctx, botKey)
		if getErr != nil {
			return nil, fmt.Errorf("getting bot after conflict: %w", getErr)
		}
		slog.InfoContext(ctx, "bot already registered, using existing entry")
		return existing, nil
	}

	slog.InfoContext(ctx, "bot registered", "bot_id", bot.ID, "site", bot.Site)

	if err := s.events.Publish(ctx, queue.Event{
		ID:         id.New(),
		Type:       queue.EventBotCreated,
		BotKey:     botKey,
		ProposalNo: bot.ProposalNo,
		OccurredAt: s.now(),
	}); err != nil {
		slog.WarnContext(ctx, "failed to publish bot event", "error", err)
	}

	return bot, nil
}

func (s *botService) fetchCredentials(ctx context.Context, proposalNo int) (mymdc.BotCredentials, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	creds, err := s.metadata.GetZulipBotCredentials(ctx, proposalNo)
	if err != nil {
		if errors.Is(err, mymdc.ErrNoBotForProposal) {
			return mymdc.BotCredentials{}, fmt.Errorf("%w: %w", ErrNoBotConfigured, err)
		}
		return mymdc.BotCredentials{}, fmt.Errorf("fetching bot credentials: %w", err)
	}
	return creds, nil
}

func (s *botService) fetchProfile(ctx context.Context, bot *model.BotConfig) (*zulip.Profile, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	client := s.zulip(zulip.Credentials{Email: bot.Email, Key: bot.Key.Reveal(), Site: bot.Site})
	profile, err := client.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBotProfile, err)
	}
	if profile.UserID == 0 {
		return nil, fmt.Errorf("%w: profile for %s has no user id", ErrBotProfile, bot.Email)
	}
	return profile, nil
}

func (s *botService) Get(ctx context.Context, key string) (*model.BotConfig, error) {
	bot, err := s.bots.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("getting bot %s: %w", key, err)
	}
	return bot, nil
}

func (s *botService) List(ctx context.Context) ([]*model.BotConfig, error) {
	return s.bots.List(ctx)
}

// flightKey groups concurrent resolutions that would mint the same bot.
func flightKey(req BotRequest) string {
	if req.BotID != nil {
		return model.BotKey(req.Site, *req.BotID)
	}
	return "proposal/" + strconv.Itoa(req.ProposalNo) + "@" + model.SiteHost(req.Site) + "/" + req.Email
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
