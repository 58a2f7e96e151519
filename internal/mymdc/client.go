package mymdc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	ErrProposalNotFound    = errors.New("no such proposal")
	ErrNoStreamForProposal = errors.New("no stream configured for proposal")
	ErrNoBotForProposal    = errors.New("no zulip bot configured for proposal")
	ErrInvalidResponse     = errors.New("invalid response from mymdc")
)

// ResponseError is an unexpected status from MyMdC. Body is kept for
// diagnostics.
type ResponseError struct {
	Path       string
	Body       string
	StatusCode int
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("mymdc %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

type Config struct {
	ClientID     string
	ClientSecret string
	Email        string
	TokenURL     string
	BaseURL      string
	Timeout      time.Duration
}

type BotCredentials struct {
	Email string `json:"email"`
	Key   string `json:"key"`
}

// Response is a raw upstream reply, used by the proxy routes.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Client is the metadata service contract consumed by the services.
type Client interface {
	GetZulipStreamName(ctx context.Context, proposalNo int) (string, error)
	GetZulipBotCredentials(ctx context.Context, proposalNo int) (BotCredentials, error)
	GetProposalID(ctx context.Context, proposalNo int) (int, error)
	Get(ctx context.Context, path string, query url.Values) (*Response, error)
}

type client struct {
	http    *http.Client
	baseURL *url.URL
}

// New builds a client that authenticates with the OAuth2 client credentials
// grant. Tokens are cached and refreshed by the oauth2 token source.
func New(cfg Config) (Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing mymdc base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"public"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})

	return &client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: cc.TokenSource(tokenCtx),
				Base:   &headerTransport{email: cfg.Email, base: http.DefaultTransport},
			},
		},
		baseURL: base,
	}, nil
}

type headerTransport struct {
	email string
	base  http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json; version=1")
	req.Header.Set("X-User-Email", t.email)
	return t.base.RoundTrip(req)
}

type proposalResponse struct {
	LogbookInfo *struct {
		LogbookIdentifier *string `json:"logbook_identifier"`
	} `json:"logbook_info"`
	ID *int `json:"id"`
}

func (c *client) GetZulipStreamName(ctx context.Context, proposalNo int) (string, error) {
	var res proposalResponse
	if err := c.getProposal(ctx, proposalNo, &res); err != nil {
		return "", err
	}

	if res.LogbookInfo == nil || res.LogbookInfo.LogbookIdentifier == nil || *res.LogbookInfo.LogbookIdentifier == "" {
		return "", fmt.Errorf("proposal %d: %w", proposalNo, ErrNoStreamForProposal)
	}
	return *res.LogbookInfo.LogbookIdentifier, nil
}

func (c *client) GetProposalID(ctx context.Context, proposalNo int) (int, error) {
	var res proposalResponse
	if err := c.getProposal(ctx, proposalNo, &res); err != nil {
		return 0, err
	}

	if res.ID == nil {
		return 0, fmt.Errorf("proposal %d: %w: missing id", proposalNo, ErrInvalidResponse)
	}
	return *res.ID, nil
}

// GetZulipBotCredentials fails with ErrNoBotForProposal when MyMdC refuses or
// does not know the proposal's logbook bot.
func (c *client) GetZulipBotCredentials(ctx context.Context, proposalNo int) (BotCredentials, error) {
	path := fmt.Sprintf("api/proposals/%d/logbook_bot", proposalNo)

	res, err := c.Get(ctx, path, nil)
	if err != nil {
		return BotCredentials{}, err
	}

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusForbidden:
		return BotCredentials{}, fmt.Errorf("proposal %d: %w: %w", proposalNo, ErrNoBotForProposal, responseError(path, res))
	case res.StatusCode/100 != 2:
		return BotCredentials{}, responseError(path, res)
	}

	var creds BotCredentials
	if err := json.Unmarshal(res.Body, &creds); err != nil {
		return BotCredentials{}, fmt.Errorf("decoding logbook bot for proposal %d: %w", proposalNo, err)
	}
	if creds.Email == "" || creds.Key == "" {
		return BotCredentials{}, fmt.Errorf("proposal %d: %w", proposalNo, ErrNoBotForProposal)
	}
	return creds, nil
}

func (c *client) getProposal(ctx context.Context, proposalNo int, out any) error {
	path := "api/proposals/by_number/" + strconv.Itoa(proposalNo)

	res, err := c.Get(ctx, path, nil)
	if err != nil {
		return err
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("proposal %d: %w: %w", proposalNo, ErrProposalNotFound, responseError(path, res))
	case res.StatusCode/100 != 2:
		return responseError(path, res)
	}

	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("decoding proposal %d: %w", proposalNo, err)
	}
	return nil
}

// Get performs an authenticated GET relative to the base URL and returns the
// reply regardless of status.
func (c *client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing mymdc path %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mymdc request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading mymdc response %s: %w", path, err)
	}

	slog.DebugContext(ctx, "mymdc request", "path", path, "status", resp.StatusCode)

	return &Response{
		Header:     resp.Header,
		Body:       body,
		StatusCode: resp.StatusCode,
	}, nil
}

func responseError(path string, res *Response) *ResponseError {
	return &ResponseError{
		Path:       path,
		Body:       string(res.Body),
		StatusCode: res.StatusCode,
	}
}
