package store

import (
	"context"
	"errors"
	"time"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned by Insert when the identity key is taken
	ErrDuplicateKey = errors.New("duplicate key")
)

// Entity is anything a JSONStore can hold.
type Entity interface {
	// StoreKey is the computed, immutable identity key.
	StoreKey() string
	Created() time.Time
	// Attr returns the plaintext string form of a named attribute for
	// secondary lookups.
	Attr(name string) (string, bool)
	Validate() error
}

// ClientStore defines the contract for scoped/admin client data access
type ClientStore interface {
	Get(ctx context.Context, key string) (*model.ScopedClient, error)
	GetBy(ctx context.Context, attr, value string) (*model.ScopedClient, error)
	Insert(ctx context.Context, client *model.ScopedClient) error
	DeleteBy(ctx context.Context, attr, value string) (*model.ScopedClient, error)
	List(ctx context.Context) ([]*model.ScopedClient, error)
}

// BotStore defines the contract for bot configuration data access
type BotStore interface {
	Get(ctx context.Context, key string) (*model.BotConfig, error)
	Insert(ctx context.Context, bot *model.BotConfig) error
	List(ctx context.Context) ([]*model.BotConfig, error)
}
