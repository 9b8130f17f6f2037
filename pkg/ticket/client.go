// Package ticket is the thin REST surface onto the ticketing backend and
// the chat handlers that drive it.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ClientConfig holds ticketing backend configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Ticket is a backend ticket record.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Requester   string    `json:"requester,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateTicketRequest is the create payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Requester   string `json:"requester,omitempty"`
}

// Client talks to the ticketing backend. Every call carries a bearer token:
// the configured service token for reads, or a per-user delegated
// credential from the consent flow for writes.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ticket: base URL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ticket: invalid base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticket: backend returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ticket: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	rel, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("ticket: invalid path %q: %w", path, err)
	}
	target := c.baseURL.JoinPath(rel.Path)
	target.RawQuery = rel.RawQuery

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return fmt.Errorf("ticket: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticket: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ticket: decoding response: %w", err)
	}
	return nil
}

// CreateTicket files a new ticket on behalf of the token's owner.
func (c *Client) CreateTicket(ctx context.Context, token string, req CreateTicketRequest) (*Ticket, error) {
	var t Ticket
	if err := c.do(ctx, http.MethodPost, "/api/tickets", token, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTicket fetches one ticket by id.
func (c *Client) GetTicket(ctx context.Context, token, id string) (*Ticket, error) {
	var t Ticket
	if err := c.do(ctx, http.MethodGet, "/api/tickets/"+url.PathEscape(id), token, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns the requester's open tickets.
func (c *Client) ListTickets(ctx context.Context, token, requester string) ([]Ticket, error) {
	var out struct {
		Tickets []Ticket `json:"tickets"`
	}
	path := "/api/tickets?requester=" + url.QueryEscape(requester)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out.Tickets, nil
}
