package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/mymdc"
)

// ProxyRequest is a read against MyMdC on behalf of a scoped client. Path is
// relative to the MyMdC base URL, e.g. api/proposals/by_number/1234.
// ProposalNo and ProposalID are the proposal named by the request, if any.
// ProposalDocument marks routes whose reply is the proposal itself; only there
// does a bare top-level "id" identify the proposal.
type ProxyRequest struct {
	Query            url.Values
	ProposalNo       *int
	ProposalID       *int
	Path             string
	ProposalDocument bool
}

type MyMdCProxyService interface {
	Fetch(ctx context.Context, client *model.ScopedClient, req ProxyRequest) (*mymdc.Response, error)
}

type myMdCProxyService struct {
	metadata mymdc.Client
	timeout  time.Duration
}

func NewMyMdCProxyService(metadata mymdc.Client, timeout time.Duration) MyMdCProxyService {
	return &myMdCProxyService{metadata: metadata, timeout: timeout}
}

// Fetch forwards the request and returns the reply only when both the
// request and the returned document belong to the client's proposal.
func (s *myMdCProxyService) Fetch(ctx context.Context, client *model.ScopedClient, req ProxyRequest) (*mymdc.Response, error) {
	if client.IsAdmin() {
		return nil, fmt.Errorf("%w: admin clients have no proposal", ErrNotScoped)
	}
	if strings.Contains(req.Path, "..") {
		return nil, fmt.Errorf("invalid mymdc path %q", req.Path)
	}

	noMismatch := req.ProposalNo != nil && *req.ProposalNo != client.ProposalNo
	idMismatch := req.ProposalID != nil && *req.ProposalID != client.ProposalID
	if noMismatch || idMismatch {
		slog.InfoContext(ctx, "client not scoped to requested proposal",
			"proposal_no_mismatch", noMismatch,
			"proposal_id_mismatch", idMismatch)
		return nil, ErrNotScoped
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.metadata.Get(ctx, req.Path, req.Query)
	if err != nil {
		return nil, fmt.Errorf("proxying mymdc request: %w", err)
	}
	if res.StatusCode/100 != 2 {
		return nil, &mymdc.ResponseError{Path: req.Path, Body: string(res.Body), StatusCode: res.StatusCode}
	}

	resID, resNo, err := responseProposal(res.Body, req.ProposalDocument)
	if err != nil {
		return nil, err
	}
	if resID == nil && resNo == nil {
		return nil, ErrProposalUndetermined
	}

	if (resID != nil && *resID == int64(client.ProposalID)) || (resNo != nil && *resNo == int64(client.ProposalNo)) {
		return res, nil
	}

	slog.InfoContext(ctx, "mymdc response belongs to another proposal", "path", req.Path)
	return nil, ErrNotScoped
}

// responseProposal extracts the proposal id and number a MyMdC document refers
// to. Lists are judged by their first element.
func responseProposal(body []byte, proposalDoc bool) (id, no *int64, err error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var content any
	if err := dec.Decode(&content); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProposalUndetermined, err)
	}

	if list, ok := content.([]any); ok {
		if len(list) == 0 {
			return nil, nil, nil
		}
		content = list[0]
	}
	doc, ok := content.(map[string]any)
	if !ok {
		return nil, nil, nil
	}

	idPaths := [][]string{
		{"proposal_id"},
		{"experiment", "proposal_id"},
		{"proposal", "id"},
	}
	noPaths := [][]string{
		{"proposal", "no"},
	}
	if proposalDoc {
		idPaths = append(idPaths, []string{"id"})
		noPaths = append(noPaths, []string{"id"})
	}
	return firstInt(doc, idPaths...), firstInt(doc, noPaths...), nil
}

func firstInt(doc map[string]any, paths ...[]string) *int64 {
	for _, path := range paths {
		if v, ok := lookupInt(doc, path); ok {
			return &v
		}
	}
	return nil
}

func lookupInt(doc map[string]any, path []string) (int64, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur = m[key]
	}
	n, ok := cur.(json.Number)
	if !ok {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}
