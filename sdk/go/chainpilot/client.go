package chainpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest carries a user message. Leave SessionID empty to start a new
// conversation; the server allocates one and echoes it back.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse carries the assistant reply.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// Reply answers an outstanding prompt: free text for parameter collection,
// or one of the tokens delivered with a confirmation request.
type Reply struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Token     string `json:"token,omitempty"`
}

// Record mirrors a persisted capability invocation.
type Record struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	GraphID    string   `json:"graph_id"`
	Alias      string   `json:"alias"`
	Capability string   `json:"capability"`
	Status     string   `json:"status"`
	ServedBy   string   `json:"served_by,omitempty"`
	Attempts   int      `json:"attempts"`
	Alternates []string `json:"alternates,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
	Payload    string   `json:"payload,omitempty"`
	Memoized   bool     `json:"memoized"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

// HistoryQuery filters the history listing.
type HistoryQuery struct {
	SessionID  string
	GraphID    string
	Capability string
	Limit      int
	Offset     int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("chainpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainPilot API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends a user message and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// Answer delivers a reply to an outstanding prompt of the session.
func (c *Client) Answer(ctx context.Context, reply Reply) error {
	return c.post(ctx, "/api/v1/reply", reply, nil)
}

// History lists persisted invocation records.
func (c *Client) History(ctx context.Context, query HistoryQuery) ([]Record, error) {
	values := url.Values{}
	if query.SessionID != "" {
		values.Set("session_id", query.SessionID)
	}
	if query.GraphID != "" {
		values.Set("graph_id", query.GraphID)
	}
	if query.Capability != "" {
		values.Set("capability", query.Capability)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		values.Set("offset", strconv.Itoa(query.Offset))
	}
	endpoint := "/api/v1/history"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
