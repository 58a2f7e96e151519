package store

import (
	"context"
	"path/filepath"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
)

const (
	ClientsFile = "clients.json"
	BotsFile    = "bots.json"
)

type (
	ClientJSONStore = JSONStore[model.ScopedClient, *model.ScopedClient]
	BotJSONStore    = JSONStore[model.BotConfig, *model.BotConfig]
)

// Stores holds the process-wide client and bot stores.
type Stores struct {
	clients *ClientJSONStore
	bots    *BotJSONStore
}

// NewStores binds both stores to files under dir. Call Load before use.
func NewStores(dir string) *Stores {
	return &Stores{
		clients: NewJSONStore[model.ScopedClient]("clients", filepath.Join(dir, ClientsFile)),
		bots:    NewJSONStore[model.BotConfig]("bots", filepath.Join(dir, BotsFile)),
	}
}

func (s *Stores) Load(ctx context.Context) error {
	if err := s.clients.Load(ctx); err != nil {
		return err
	}
	return s.bots.Load(ctx)
}

func (s *Stores) Clients() ClientStore {
	return s.clients
}

func (s *Stores) Bots() BotStore {
	return s.bots
}
