package model

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBotSite = "https://mylog.connect.xfel.eu/"

// BotConfig is a Zulip bot identity bound to one site. The numeric ID is
// assigned by Zulip.
type BotConfig struct {
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	Site       string     `json:"site"`
	Email      string     `json:"email"`
	Key        Secret     `json:"key"`
	ID         int64      `json:"id"`
	ProposalNo int        `json:"proposal_no"`
}

// StoreKey is {site-host}/{bot-id}.
func (b *BotConfig) StoreKey() string {
	return BotKey(b.Site, b.ID)
}

func (b *BotConfig) Created() time.Time {
	if b.CreatedAt == nil {
		return time.Time{}
	}
	return *b.CreatedAt
}

// Clone returns a copy that shares no pointers with b.
func (b *BotConfig) Clone() *BotConfig {
	cp := *b
	cp.CreatedAt = clonePtr(b.CreatedAt)
	return &cp
}

func (b *BotConfig) Attr(name string) (string, bool) {
	switch name {
	case "id":
		return strconv.FormatInt(b.ID, 10), true
	case "site":
		return b.Site, true
	case "email":
		return b.Email, true
	case "key":
		return b.Key.Reveal(), true
	case "proposal_no":
		return strconv.Itoa(b.ProposalNo), true
	}
	return "", false
}

func (b *BotConfig) Validate() error {
	if b.ID == 0 {
		return errors.New("bot id is required")
	}
	if b.Site == "" {
		return errors.New("bot site is required")
	}
	if b.Email == "" || b.Key.IsZero() {
		return fmt.Errorf("bot %d: email and key are required", b.ID)
	}
	return nil
}

// BotKey builds the identity key shared by BotConfig and the back-reference
// held by ScopedClient.
func BotKey(site string, id int64) string {
	return SiteHost(site) + "/" + strconv.FormatInt(id, 10)
}

// SiteHost returns the host part of a site URL, or the trimmed input when it
// does not parse as an absolute URL.
func SiteHost(site string) string {
	u, err := url.Parse(strings.TrimSpace(site))
	if err != nil || u.Host == "" {
		return strings.Trim(strings.TrimSpace(site), "/")
	}
	return u.Host
}

func clonePtr[V any](p *V) *V {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
