package dto

import (
	"time"

	"github.com/invopop/jsonschema"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
)

type CreateClientRequest struct {
	ProposalNo int     `json:"proposal_no" binding:"required,gt=0" jsonschema:"title=Proposal number,minimum=1"`
	Stream     *string `json:"stream,omitempty" binding:"omitempty,min=1,max=255" jsonschema:"title=Stream,description=Zulip stream; looked up in MyMdC when omitted"`
	BotID      *int64  `json:"bot_id,omitempty" binding:"omitempty,gt=0" jsonschema:"title=Bot ID,description=Zulip user id of an already registered bot"`
	BotSite    *string `json:"bot_site,omitempty" binding:"omitempty,url" jsonschema:"title=Bot site,format=uri,default=https://mylog.connect.xfel.eu/"`
}

// CreateClientSchema is the JSON schema of CreateClientRequest, served to
// form builders.
func CreateClientSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&CreateClientRequest{})
}

// ClientResponse never includes the token.
type ClientResponse struct {
	CreatedAt  time.Time `json:"created_at"`
	Stream     *string   `json:"stream"`
	BotID      *int64    `json:"bot_id"`
	BotSite    *string   `json:"bot_site"`
	Key        string    `json:"key"`
	Kind       string    `json:"kind"`
	CreatedBy  string    `json:"created_by"`
	ProposalNo int       `json:"proposal_no,omitempty"`
	ProposalID int       `json:"proposal_id,omitempty"`
}

func ToClientResponse(c *model.ScopedClient) *ClientResponse {
	return &ClientResponse{
		CreatedAt:  c.CreatedAt,
		Stream:     c.Stream,
		BotID:      c.BotID,
		BotSite:    c.BotSite,
		Key:        c.StoreKey(),
		Kind:       string(c.Kind),
		CreatedBy:  c.CreatedBy,
		ProposalNo: c.ProposalNo,
		ProposalID: c.ProposalID,
	}
}

func ToClientResponses(clients []*model.ScopedClient) []*ClientResponse {
	out := make([]*ClientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, ToClientResponse(c))
	}
	return out
}

// CreateClientResponse is the only response that carries a plaintext token.
type CreateClientResponse struct {
	*ClientResponse
	Token string `json:"token"`
}

func ToCreateClientResponse(c *model.ScopedClient) *CreateClientResponse {
	return &CreateClientResponse{
		ClientResponse: ToClientResponse(c),
		Token:          c.Token.Reveal(),
	}
}

type BotResponse struct {
	CreatedAt  *time.Time `json:"created_at"`
	Key        string     `json:"key"`
	Site       string     `json:"site"`
	Email      string     `json:"email"`
	ID         int64      `json:"id"`
	ProposalNo int        `json:"proposal_no,omitempty"`
}

func ToBotResponse(b *model.BotConfig) *BotResponse {
	return &BotResponse{
		CreatedAt:  b.CreatedAt,
		Key:        b.StoreKey(),
		Site:       b.Site,
		Email:      b.Email,
		ID:         b.ID,
		ProposalNo: b.ProposalNo,
	}
}

type MessageResponse struct {
	Topic     string `json:"topic"`
	Content   string `json:"content"`
	ID        int64  `json:"id"`
	Timestamp int64  `json:"timestamp"`
}
