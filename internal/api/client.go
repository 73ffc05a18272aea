// Package api is the client for the backend's durable request/response operations.
package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Code, e.Body)
}

// Client talks to the backend REST API with a bearer token.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client for baseURL.
func New(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc, logger: logging.OrNop(logger)}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return &StatusError{Op: op, Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (domain.Contact, error) {
	var out wire.User
	resp, err := c.request(ctx).SetResult(&out).Get("/users/me")
	if err := check("fetch me", resp, err); err != nil {
		return domain.Contact{}, err
	}
	return out.Contact(), nil
}

// User looks up a single profile.
func (c *Client) User(ctx context.Context, id domain.UserID) (domain.Contact, error) {
	var out wire.User
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(int64(id), 10)).
		SetResult(&out).
		Get("/users/{id}")
	if err := check("fetch user", resp, err); err != nil {
		return domain.Contact{}, err
	}
	return out.Contact(), nil
}

// Contacts returns every user the local user may talk to.
func (c *Client) Contacts(ctx context.Context) ([]domain.Contact, error) {
	var out []wire.User
	resp, err := c.request(ctx).SetResult(&out).Get("/users")
	if err := check("fetch contacts", resp, err); err != nil {
		return nil, err
	}
	contacts := make([]domain.Contact, 0, len(out))
	for _, u := range out {
		contacts = append(contacts, u.Contact())
	}
	return contacts, nil
}

type conversationDTO struct {
	Contact     wire.User            `json:"contact"`
	LastMessage *wire.MessagePayload `json:"lastMessage"`
	UnreadCount uint                 `json:"unreadCount"`
}

// Conversations returns the user's conversations with last message and unread count.
func (c *Client) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []conversationDTO
	resp, err := c.request(ctx).SetResult(&out).Get("/conversations")
	if err := check("fetch conversations", resp, err); err != nil {
		return nil, err
	}
	convs := make([]domain.Conversation, 0, len(out))
	for _, dto := range out {
		conv := domain.Conversation{Contact: dto.Contact.Contact(), UnreadCount: dto.UnreadCount}
		if dto.LastMessage != nil {
			m := dto.LastMessage.Message()
			conv.LastMessage = &m
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// Page is one page of history, newest first.
type Page struct {
	Messages []domain.Message
	HasMore  bool
}

type pageDTO struct {
	Messages []wire.MessagePayload `json:"messages"`
	HasMore  bool                  `json:"hasMore"`
}

// Messages fetches page (1-based) of the history with contactID, newest first.
func (c *Client) Messages(ctx context.Context, contactID domain.UserID, page, size int) (Page, error) {
	var out pageDTO
	resp, err := c.request(ctx).
		SetPathParam("contactId", strconv.FormatInt(int64(contactID), 10)).
		SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"take":  strconv.Itoa(size),
			"order": "DESC",
		}).
		SetResult(&out).
		Get("/messages/{contactId}")
	if err := check("fetch messages", resp, err); err != nil {
		return Page{}, err
	}
	msgs := make([]domain.Message, 0, len(out.Messages))
	for _, p := range out.Messages {
		msgs = append(msgs, p.Message())
	}
	return Page{Messages: msgs, HasMore: out.HasMore}, nil
}

type sendDTO struct {
	LocalID  string        `json:"localId"`
	ToID     domain.UserID `json:"toId"`
	Text     string        `json:"text,omitempty"`
	FileName string        `json:"fileName,omitempty"`
	FileURL  string        `json:"fileUrl,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
}

// Send persists msg and returns it as stored, carrying its server id.
func (c *Client) Send(ctx context.Context, msg domain.Message) (domain.Message, error) {
	body := sendDTO{LocalID: msg.LocalID, ToID: msg.To.ID, Text: msg.Body}
	if a := msg.Attachment; a != nil {
		body.FileName, body.FileURL = a.FileName, a.RemoteRef
		body.Width, body.Height = a.Width, a.Height
	}
	var out wire.MessagePayload
	resp, err := c.request(ctx).SetBody(body).SetResult(&out).Post("/messages/send")
	if err := check("send message", resp, err); err != nil {
		return domain.Message{}, err
	}
	if out.ID == 0 {
		return domain.Message{}, fmt.Errorf("send message: backend returned no id")
	}
	stored := out.Message()
	stored.LocalID = msg.LocalID
	return stored, nil
}

// UploadURL asks the backend for a single-use upload target for fileName.
func (c *Client) UploadURL(ctx context.Context, fileName string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	resp, err := c.request(ctx).
		SetQueryParam("fileName", fileName).
		SetResult(&out).
		Get("/messages/upload-url")
	if err := check("fetch upload url", resp, err); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("fetch upload url: backend returned an empty url")
	}
	return out.URL, nil
}

// ReadAck is the backend's confirmation of a mark-read request.
type ReadAck struct {
	LastReadID int64     `json:"lastReadId"`
	ReadAt     time.Time `json:"readAt"`
}

// MarkRead marks every message from contactID as read.
func (c *Client) MarkRead(ctx context.Context, contactID domain.UserID) (ReadAck, error) {
	var out ReadAck
	resp, err := c.request(ctx).
		SetPathParam("contactId", strconv.FormatInt(int64(contactID), 10)).
		SetResult(&out).
		Patch("/messages/{contactId}/read")
	if err := check("mark read", resp, err); err != nil {
		return ReadAck{}, err
	}
	if out.ReadAt.IsZero() {
		out.ReadAt = time.Now()
	}
	c.logger.Debug("marked read", zap.Int64("contact_id", int64(contactID)), zap.Int64("last_read_id", out.LastReadID))
	return out, nil
}
