// Package authclient calls the DingyChat auth and room-directory HTTP API.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dingychat/dingychat-go/internal/platform/timeouts"
)

// ErrAuthenticationFailed covers every login/register rejection. The server's
// reason is not surfaced to callers.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Session is the credential material returned by a successful login or
// registration.
type Session struct {
	Token string `json:"token"`
	Color string `json:"color"`
}

// Client talks to the auth service and room directory.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeouts.HTTPRequest},
	}, nil
}

// Login exchanges a username and password for a session token and color.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	return c.authenticate(ctx, "/api/auth/login", username, password)
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, username, password string) (Session, error) {
	return c.authenticate(ctx, "/api/auth/register", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrAuthenticationFailed
	}

	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return Session{}, fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("call auth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Session{}, ErrAuthenticationFailed
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("decode auth response: %w", err)
	}
	if strings.TrimSpace(session.Token) == "" {
		return Session{}, ErrAuthenticationFailed
	}
	return session, nil
}

// Rooms lists the room directory visible to the session token.
func (c *Client) Rooms(ctx context.Context, token string) ([]string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("session token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/rooms", nil)
	if err != nil {
		return nil, fmt.Errorf("build rooms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call room directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room directory status %d", resp.StatusCode)
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode rooms response: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if name := strings.TrimSpace(entry.Name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// FreeRoom returns the directory's suggested starting room, falling back to
// "general" when the directory has no suggestion or cannot be reached.
func (c *Client) FreeRoom(ctx context.Context) string {
	const fallback = "general"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user/freerooms", nil)
	if err != nil {
		return fallback
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fallback
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fallback
	}
	if len(entries) == 0 || strings.TrimSpace(entries[0].Name) == "" {
		return fallback
	}
	return strings.TrimSpace(entries[0].Name)
}

// FreeUser reserves a guest identity and returns its assigned color.
func (c *Client) FreeUser(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New("username is required")
	}

	body, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return "", fmt.Errorf("marshal guest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/user/freeuser", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build guest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call guest endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("guest endpoint status %d", resp.StatusCode)
	}

	var payload struct {
		Color string `json:"color"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode guest response: %w", err)
	}
	return payload.Color, nil
}
