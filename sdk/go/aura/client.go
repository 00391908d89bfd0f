package aura

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Turns are synchronous and may wait on an approval, so
// this is deliberately generous.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the Aura daemon REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu         sync.RWMutex
	ownerToken string
}

// TurnResult is the outcome of one message turn.
type TurnResult struct {
	SessionID string `json:"session_id"`
	Thought   string `json:"thought"`
	Reply     string `json:"reply"`
	Rounds    int    `json:"rounds"`
	LimitHit  bool   `json:"limit_hit,omitempty"`
}

// PendingApproval describes an approval request awaiting the owner's decision.
type PendingApproval struct {
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args"`
	Reason        string         `json:"reason"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// Fact is one long-term memory record.
type Fact struct {
	ID         string  `json:"id"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"session_id,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// FactFilter narrows down fact queries.
type FactFilter struct {
	Subject   string
	Predicate string
	Limit     int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("aura api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("aura api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Aura daemon API. When httpClient is
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

// SetOwnerToken stores the owner token sent with every request.
func (c *Client) SetOwnerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerToken = token
}

// OwnerToken returns the currently stored token string.
func (c *Client) OwnerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownerToken
}

// SendMessage submits a user message and waits for the turn to finish.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (TurnResult, error) {
	payload := map[string]string{"session_id": sessionID, "text": text}
	var result TurnResult
	if err := c.post(ctx, "/api/v1/messages", payload, &result); err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// PendingApprovals lists approval requests awaiting a decision.
func (c *Client) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	var pending []PendingApproval
	if err := c.get(ctx, "/api/v1/approvals", &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// ResolveApproval submits the owner's decision on a pending approval.
func (c *Client) ResolveApproval(ctx context.Context, correlationID string, approved bool, actor string) error {
	payload := map[string]any{
		"correlation_id": correlationID,
		"approved":       approved,
		"actor":          actor,
	}
	return c.post(ctx, "/api/v1/approvals", payload, nil)
}

// QueryFacts lists long-term memory facts matching the filter, newest first.
func (c *Client) QueryFacts(ctx context.Context, filter FactFilter) ([]Fact, error) {
	query := url.Values{}
	if filter.Subject != "" {
		query.Set("subject", filter.Subject)
	}
	if filter.Predicate != "" {
		query.Set("predicate", filter.Predicate)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	endpoint := "/api/v1/facts"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var facts []Fact
	if err := c.get(ctx, endpoint, &facts); err != nil {
		return nil, err
	}
	return facts, nil
}

// AssertFact stores a long-term memory fact.
func (c *Client) AssertFact(ctx context.Context, fact Fact) (Fact, error) {
	var stored Fact
	if err := c.post(ctx, "/api/v1/facts", fact, &stored); err != nil {
		return Fact{}, err
	}
	return stored, nil
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
	if c.baseURL == nil {
		return nil, errors.New("aura: base url is not set")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{
		Path:     path.Join(c.baseURL.Path, parsed.Path),
		RawQuery: parsed.RawQuery,
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.OwnerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
