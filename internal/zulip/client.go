package zulip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a per-bot handle on the Zulip REST API.
type Client interface {
	GetProfile(ctx context.Context) (*Profile, error)
	SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error)
	UpdateMessage(ctx context.Context, req UpdateMessageRequest) (*Response, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (*UploadFileResponse, error)
	GetStreamID(ctx context.Context, stream string) (int64, error)
	GetStreamTopics(ctx context.Context, streamID int64) (*TopicsResponse, error)
	GetMessages(ctx context.Context, req GetMessagesRequest) (*MessagesResponse, error)
}

// Factory builds a client for one set of bot credentials. It is injected into
// the services so tests can substitute a fake.
type Factory func(creds Credentials) Client

// NewFactory returns a Factory whose clients share httpClient.
func NewFactory(httpClient *http.Client) Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return func(creds Credentials) Client {
		return New(httpClient, creds)
	}
}

type client struct {
	http  *http.Client
	creds Credentials
	base  string
}

func New(httpClient *http.Client, creds Credentials) Client {
	return &client{
		http:  httpClient,
		creds: creds,
		base:  strings.TrimRight(creds.Site, "/") + "/api/v1/",
	}
}

func (c *client) GetProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	form := url.Values{
		"type":    {"stream"},
		"to":      {req.To},
		"topic":   {req.Topic},
		"content": {req.Content},
	}

	var out SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "messages", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) UpdateMessage(ctx context.Context, req UpdateMessageRequest) (*Response, error) {
	form := url.Values{}
	if req.Topic != nil {
		form.Set("topic", *req.Topic)
	}
	if req.Content != nil {
		form.Set("content", *req.Content)
	}
	if req.PropagateMode != nil {
		form.Set("propagate_mode", string(*req.PropagateMode))
	}

	var out Response
	path := "messages/" + strconv.FormatInt(req.MessageID, 10)
	if err := c.do(ctx, http.MethodPatch, path, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) UploadFile(ctx context.Context, name string, r io.Reader) (*UploadFileResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "user_uploads", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadFileResponse
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	if out.URI == "" {
		out.URI = out.URL
	}
	return &out, nil
}

func (c *client) GetStreamID(ctx context.Context, stream string) (int64, error) {
	var out struct {
		Response
		StreamID int64 `json:"stream_id"`
	}
	path := "get_stream_id?" + url.Values{"stream": {stream}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.StreamID, nil
}

func (c *client) GetStreamTopics(ctx context.Context, streamID int64) (*TopicsResponse, error) {
	var out TopicsResponse
	path := "users/me/" + strconv.FormatInt(streamID, 10) + "/topics"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GetMessages(ctx context.Context, req GetMessagesRequest) (*MessagesResponse, error) {
	narrow, err := json.Marshal(req.Narrow)
	if err != nil {
		return nil, fmt.Errorf("encoding narrow: %w", err)
	}

	q := url.Values{
		"anchor":         {req.Anchor},
		"num_before":     {strconv.Itoa(req.NumBefore)},
		"num_after":      {strconv.Itoa(req.NumAfter)},
		"apply_markdown": {strconv.FormatBool(req.ApplyMarkdown)},
		"narrow":         {string(narrow)},
	}

	var out MessagesResponse
	if err := c.do(ctx, http.MethodGet, "messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return c.send(req, out)
}

func (c *client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("building zulip request: %w", err)
	}
	req.SetBasicAuth(c.creds.Email, c.creds.Key)
	return req, nil
}

func (c *client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("zulip %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading zulip response: %w", err)
	}

	var status Response
	_ = json.Unmarshal(data, &status)

	if resp.StatusCode/100 != 2 || status.Result != "success" {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding zulip response: %w", err)
	}
	return nil
}
