package zulip

import (
	"fmt"
	"time"
)

type PropagateMode string

const (
	PropagateChangeOne   PropagateMode = "change_one"
	PropagateChangeAll   PropagateMode = "change_all"
	PropagateChangeLater PropagateMode = "change_later"
)

func (m PropagateMode) Valid() bool {
	switch m {
	case PropagateChangeOne, PropagateChangeAll, PropagateChangeLater:
		return true
	}
	return false
}

// Credentials identify a bot on one Zulip site.
type Credentials struct {
	Email string
	Key   string
	Site  string
}

// APIError is a non-success reply from Zulip.
type APIError struct {
	Result     string `json:"result"`
	Msg        string `json:"msg"`
	Code       string `json:"code"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zulip: status %d: %s (%s)", e.StatusCode, e.Msg, e.Code)
}

type Response struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
}

type Profile struct {
	Response
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	DateJoined string `json:"date_joined"`
	UserID     int64  `json:"user_id"`
	IsBot      bool   `json:"is_bot"`
}

// JoinedAt parses DateJoined, nil when absent or malformed.
func (p *Profile) JoinedAt() *time.Time {
	if p.DateJoined == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, p.DateJoined)
	if err != nil {
		return nil
	}
	return &t
}

type SendMessageRequest struct {
	To      string
	Topic   string
	Content string
}

type SendMessageResponse struct {
	Response
	ID int64 `json:"id"`
}

type UpdateMessageRequest struct {
	Topic         *string
	Content       *string
	PropagateMode *PropagateMode
	MessageID     int64
}

type UploadFileResponse struct {
	Response
	URI string `json:"uri"`
	URL string `json:"url,omitempty"`
}

type Topic struct {
	Name  string `json:"name"`
	MaxID int64  `json:"max_id"`
}

type TopicsResponse struct {
	Response
	Topics []Topic `json:"topics"`
}

type NarrowTerm struct {
	Operand  any    `json:"operand"`
	Operator string `json:"operator"`
}

type GetMessagesRequest struct {
	Anchor        string
	Narrow        []NarrowTerm
	NumBefore     int
	NumAfter      int
	ApplyMarkdown bool
}

type Message struct {
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	ID        int64  `json:"id"`
	SenderID  int64  `json:"sender_id"`
	Timestamp int64  `json:"timestamp"`
}

type MessagesResponse struct {
	Response
	Messages    []Message `json:"messages"`
	FoundNewest bool      `json:"found_newest"`
	FoundOldest bool      `json:"found_oldest"`
}
