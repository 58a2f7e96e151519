package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrNoBotForClient = errors.New("no zulip bot configured for client")

type ClientKind string

const (
	ClientKindScoped ClientKind = "scoped"
	ClientKindAdmin  ClientKind = "admin"
)

// ScopedClient is an issued credential limited to one proposal and stream.
// Admin clients share the type and storage but carry Kind admin and no
// proposal scope.
//
// Stream, BotID and BotSite may be nil: a client can be registered before the
// proposal has a stream or bot configured.
type ScopedClient struct {
	CreatedAt  time.Time  `json:"created_at"`
	Stream     *string    `json:"stream"`
	BotID      *int64     `json:"bot_id"`
	BotSite    *string    `json:"bot_site"`
	Kind       ClientKind `json:"kind"`
	Token      Secret     `json:"token"`
	CreatedBy  string     `json:"created_by"`
	ProposalNo int        `json:"proposal_no"`
	ProposalID int        `json:"proposal_id"`
}

// StoreKey is {proposal_no}/{created_by}[/{bot-site-host}] for scoped clients
// and admin/{created_by} for admin clients.
func (c *ScopedClient) StoreKey() string {
	if c.IsAdmin() {
		return "admin/" + c.CreatedBy
	}
	key := strconv.Itoa(c.ProposalNo) + "/" + c.CreatedBy
	if c.BotSite != nil && *c.BotSite != "" {
		key += "/" + SiteHost(*c.BotSite)
	}
	return key
}

// BotKey returns the key of the linked BotConfig.
func (c *ScopedClient) BotKey() (string, error) {
	if c.BotID == nil || c.BotSite == nil || *c.BotSite == "" {
		return "", ErrNoBotForClient
	}
	return BotKey(*c.BotSite, *c.BotID), nil
}

func (c *ScopedClient) HasBot() bool {
	_, err := c.BotKey()
	return err == nil
}

func (c *ScopedClient) IsAdmin() bool {
	return c.Kind == ClientKindAdmin
}

func (c *ScopedClient) Created() time.Time {
	return c.CreatedAt
}

func (c *ScopedClient) Clone() *ScopedClient {
	cp := *c
	cp.Stream = clonePtr(c.Stream)
	cp.BotID = clonePtr(c.BotID)
	cp.BotSite = clonePtr(c.BotSite)
	return &cp
}

func (c *ScopedClient) Attr(name string) (string, bool) {
	switch name {
	case "token":
		return c.Token.Reveal(), true
	case "proposal_no":
		return strconv.Itoa(c.ProposalNo), true
	case "proposal_id":
		return strconv.Itoa(c.ProposalID), true
	case "created_by":
		return c.CreatedBy, true
	case "kind":
		return string(c.Kind), true
	case "stream":
		if c.Stream == nil {
			return "", true
		}
		return *c.Stream, true
	case "bot_key":
		key, _ := c.BotKey()
		return key, true
	}
	return "", false
}

func (c *ScopedClient) Validate() error {
	switch c.Kind {
	case ClientKindScoped:
		if c.ProposalNo <= 0 {
			return fmt.Errorf("scoped client: invalid proposal number %d", c.ProposalNo)
		}
	case ClientKindAdmin:
	default:
		return fmt.Errorf("unknown client kind %q", c.Kind)
	}
	if c.Token.IsZero() {
		return errors.New("client token is required")
	}
	if (c.BotID == nil) != (c.BotSite == nil) {
		return errors.New("bot_id and bot_site must be set together")
	}
	return nil
}

// UnmarshalJSON defaults Kind to scoped for records written before admin
// clients shared the file.
func (c *ScopedClient) UnmarshalJSON(data []byte) error {
	type raw ScopedClient
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Kind == "" {
		r.Kind = ClientKindScoped
	}
	*c = ScopedClient(r)
	return nil
}
