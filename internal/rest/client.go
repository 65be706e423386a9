package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
)

// MessageRecord is one history entry as the backend returns it.
type MessageRecord struct {
	ID          string             `json:"id"`
	Room        string             `json:"room"`
	SenderID    string             `json:"sender_id"`
	SenderName  string             `json:"sender_name,omitempty"`
	Body        string             `json:"body"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
	CreatedAt   int64              `json:"created_at"` // unix seconds
}

// AttachmentRecord is a stored attachment reference.
type AttachmentRecord struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// ConversationRecord is full conversation metadata.
type ConversationRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ClientID        string `json:"client_id"`
	WorkerID        string `json:"worker_id"`
	CounterpartID   string `json:"counterpart_id"`
	CounterpartName string `json:"counterpart_name"`
}

// historyResponse wraps a page of messages.
type historyResponse struct {
	Messages []MessageRecord `json:"messages"`
	Page     int             `json:"page"`
	HasMore  bool            `json:"has_more"`
}

// Client talks to the marketplace REST backend with a bearer credential.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zerolog.Logger
}

// NewClient builds a REST client rooted at base (e.g. "https://api.example.com/api").
func NewClient(base, token string, logger *zerolog.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   logger,
	}
}

// MessageHistory fetches one page of a room's message log.
func (c *Client) MessageHistory(ctx context.Context, roomID string, page, limit int) ([]MessageRecord, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/rooms/%s/messages?%s", c.base, url.PathEscape(roomID), q.Encode())

	var resp historyResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("message history %s: %w", roomID, err)
	}
	return resp.Messages, nil
}

// Conversation fetches full conversation metadata by id.
func (c *Client) Conversation(ctx context.Context, id string) (*ConversationRecord, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s", c.base, url.PathEscape(id))

	var rec ConversationRecord
	if err := c.getJSON(ctx, endpoint, &rec); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return &rec, nil
}

// UploadAttachment stores attachment bytes and returns the durable reference.
func (c *Client) UploadAttachment(ctx context.Context, filename, mimeType string, data []byte) (*AttachmentRecord, error) {
	endpoint := c.base + "/attachments?filename=" + url.QueryEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("upload %s: status %d", filename, resp.StatusCode)
	}

	var rec AttachmentRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &rec, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
