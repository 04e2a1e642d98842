package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/auth"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
)

const requestTimeout = 15 * time.Second

// Client talks to the REST side of the platform: chat history and the
// notification endpoints. The transport never goes through here.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	log     *log.Logger
}

func NewClient(baseURL string, tokens auth.TokenSource, logger *log.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		tokens:  tokens,
		log:     logger,
	}
}

// History fetches one page of a room's message history, oldest first.
// A zero since fetches from the beginning.
func (c *Client) History(ctx context.Context, roomKey string, limit int, since time.Time) ([]types.Message, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var msgs []types.Message
	path := fmt.Sprintf("/chat/%s/history?%s", url.PathEscape(roomKey), params.Encode())
	if err := c.do(ctx, http.MethodGet, path, &msgs); err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", roomKey, err)
	}

	return msgs, nil
}

func (c *Client) Notifications(ctx context.Context) ([]types.Notification, error) {
	var list []types.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", &list); err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", err)
	}

	return list, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread/count", &resp); err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}

	return resp.Count, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/notifications/%s/read", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPatch, path, nil); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}

	return nil
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPatch, "/notifications/read-all", nil); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}

	return nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/notifications/%s", url.PathEscape(id))
	if err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}

	return nil
}

func (c *Client) DeleteAll(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/notifications", nil); err != nil {
		return fmt.Errorf("delete all notifications: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
		}
		if body.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, body.Message)
		}
	}

	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
