// Package cli implements the operator commands that talk to a running
// service over HTTP or inspect its database.
package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ANSI
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Red    = "\033[31m"
)

// Client prints the result of each command to Out.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Out     io.Writer
	NoColor bool
}

func NewClient(baseURL string, out io.Writer) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		Out:     out,
	}
}

func (c *Client) color(code string) string {
	if c.NoColor {
		return ""
	}
	return code
}

// Register creates a user through POST /api/register.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	body, _ := json.Marshal(map[string]string{"name": name, "email": email, "password": password})
	status, resp, err := c.do(ctx, http.MethodPost, "/api/register", body, "")
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return c.fail(status, resp)
	}

	var out struct {
		Warning string `json:"warning"`
	}
	_ = json.Unmarshal(resp, &out)
	if out.Warning != "" {
		fmt.Fprintf(c.Out, "  %s[!] created with warning:%s %s\n  %s\n", c.color(Yellow), c.color(Reset), out.Warning, resp)
		return nil
	}
	fmt.Fprintf(c.Out, "  %s[ok] created%s\n  %s\n", c.color(Green), c.color(Reset), resp)
	return nil
}

// Login prints a bearer token for the given credentials.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	status, resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", body, "")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", c.fail(status, resp)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	fmt.Fprintf(c.Out, "  %s[ok] token%s\n  %s\n", c.color(Green), c.color(Reset), out.Token)
	return out.Token, nil
}

// Profile fetches GET /api/protected/profile with token.
func (c *Client) Profile(ctx context.Context, token string) error {
	status, resp, err := c.do(ctx, http.MethodGet, "/api/protected/profile", nil, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.fail(status, resp)
	}
	fmt.Fprintf(c.Out, "  %s\n", resp)
	return nil
}

// Health reports whether the service answers /health.
func (c *Client) Health(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil || status != http.StatusOK {
		fmt.Fprintf(c.Out, "  %s[-]%s %-12s %soffline%s\n", c.color(Red), c.color(Reset), "api", c.color(Red), c.color(Reset))
		if err == nil {
			err = fmt.Errorf("health check returned %d", status)
		}
		return err
	}
	fmt.Fprintf(c.Out, "  %s[+]%s %-12s %sok%s\n", c.color(Green), c.color(Reset), "api", c.color(Green), c.color(Reset))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		fmt.Fprintf(c.Out, "  %s[x] %v%s\n", c.color(Red), err, c.color(Reset))
		return 0, nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, bytes.TrimSpace(buf), nil
}

func (c *Client) fail(status int, body []byte) error {
	fmt.Fprintf(c.Out, "  %s[x] %d%s %s\n", c.color(Red), status, c.color(Reset), body)
	return fmt.Errorf("request failed with status %d", status)
}

// ShowNotifications lists the most recent welcome notification claims.
func ShowNotifications(ctx context.Context, db *sql.DB, out io.Writer, limit int) error {
	rows, err := db.QueryContext(ctx, `SELECT dedup_key, created_at
		FROM welcome_notifications ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		fmt.Fprintf(out, "  [x] %v\n", err)
		return err
	}
	defer rows.Close()

	fmt.Fprintf(out, "  %-48s %s\n", "KEY", "TIME")
	fmt.Fprintf(out, "  %s\n", strings.Repeat("-", 70))
	n := 0
	for rows.Next() {
		var key string
		var createdAt time.Time
		if err := rows.Scan(&key, &createdAt); err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-48s %s\n", key, createdAt.Format(time.RFC3339))
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "  %d notification(s)\n", n)
	return nil
}
