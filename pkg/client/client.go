// Package client talks to the scheduleChat REST API on behalf of one signed-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scheduleChat/pkg/api"
)

// Client implements realtime.Backend over HTTP. Sender ids passed to the
// insert calls are informational; the server uses the token's user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// SocketURL is the realtime endpoint of the same server.
func (c *Client) SocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/ws"
	return u.String(), nil
}

func (c *Client) CurrentIdentity(ctx context.Context) (*api.Identity, error) {
	var identity api.Identity
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &identity)
	if errors.Is(err, api.ErrNotFound) || errors.Is(err, api.ErrUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (c *Client) MessageHistory(ctx context.Context, meetingId string) ([]api.Message, error) {
	var messages []api.Message
	err := c.do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(meetingId)+"/messages", nil, &messages)
	return messages, err
}

// DirectHistory returns the conversation of the token's user with userB.
func (c *Client) DirectHistory(ctx context.Context, _ string, userB string) ([]api.DirectMessage, error) {
	var messages []api.DirectMessage
	err := c.do(ctx, http.MethodGet, "/direct/"+url.PathEscape(userB)+"/messages", nil, &messages)
	return messages, err
}

func (c *Client) InsertMessage(ctx context.Context, meetingId string, _ string, message api.NewMessage) (api.Message, error) {
	var created api.Message
	err := c.do(ctx, http.MethodPost, "/meetings/"+url.PathEscape(meetingId)+"/messages", message, &created)
	return created, err
}

func (c *Client) InsertDirectMessage(ctx context.Context, _ string, receiverId string, message api.NewMessage) (api.DirectMessage, error) {
	var created api.DirectMessage
	err := c.do(ctx, http.MethodPost, "/direct/"+url.PathEscape(receiverId)+"/messages", message, &created)
	return created, err
}

func (c *Client) Profile(ctx context.Context, userId string) (api.Profile, error) {
	var profile api.Profile
	err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(userId), nil, &profile)
	return profile, err
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError(method, path, resp.StatusCode, strings.TrimSpace(string(text)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(method, path string, code int, text string) error {
	var sentinel error
	switch code {
	case http.StatusNotFound:
		sentinel = api.ErrNotFound
	case http.StatusUnauthorized:
		sentinel = api.ErrUnauthorized
	case http.StatusBadRequest:
		if text == api.ErrEmptyContent.Error() {
			sentinel = api.ErrEmptyContent
		}
	}
	if sentinel != nil {
		return fmt.Errorf("%s %s: %w", method, path, sentinel)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, code, text)
}
