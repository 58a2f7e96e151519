package service

import (
	"errors"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrUnauthorised     = errors.New("unauthorised")
	ErrNotAdmin         = errors.New("client is not an admin client")

	// ErrNoBotForClient means the token is valid but no bot is linked to the
	// client. Callers show it differently from bad credentials.
	ErrNoBotForClient    = model.ErrNoBotForClient
	ErrNoStreamForClient = errors.New("no zulip stream configured for client")

	ErrNoBotConfigured = errors.New("no zulip bot configured for proposal")
	ErrBotProfile      = errors.New("could not resolve bot id from zulip profile")
	ErrNoSuchProposal  = mymdc.ErrProposalNotFound

	ErrClientExists    = errors.New("client already exists")
	ErrInvalidProposal = errors.New("invalid proposal number")

	ErrNotScoped            = errors.New("client not scoped to this proposal")
	ErrProposalUndetermined = errors.New("cannot determine proposal for response")
)
