package service

import (
	"time"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/queue"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/store"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/zulip"
)

type ServicesConfig struct {
	Stores          *store.Stores
	MyMdC           mymdc.Client
	Zulip           zulip.Factory
	EventProducer   queue.Producer
	DefaultSite     string
	ExternalTimeout time.Duration
}

// Services holds the process-wide service instances. The bot service keeps
// in-flight resolution state, so services are built once and shared.
type Services struct {
	bots    BotService
	clients ClientService
	proxy   MyMdCProxyService
}

func NewServices(cfg ServicesConfig) *Services {
	bots := NewBotService(
		cfg.Stores.Bots(),
		cfg.MyMdC,
		cfg.Zulip,
		cfg.EventProducer,
		cfg.DefaultSite,
		cfg.ExternalTimeout,
	)
	return &Services{
		bots: bots,
		clients: NewClientService(
			cfg.Stores.Clients(),
			cfg.Stores.Bots(),
			bots,
			cfg.MyMdC,
			cfg.Zulip,
			cfg.EventProducer,
			cfg.DefaultSite,
			cfg.ExternalTimeout,
		),
		proxy: NewMyMdCProxyService(cfg.MyMdC, cfg.ExternalTimeout),
	}
}

func (s *Services) Bots() BotService {
	return s.bots
}

func (s *Services) Clients() ClientService {
	return s.clients
}

func (s *Services) MyMdCProxy() MyMdCProxyService {
	return s.proxy
}
