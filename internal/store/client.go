// Package store provides access to the hosted reactive document store that
// owns all OPNODE state. The store speaks a PostgREST-style REST API for
// queries and mutations and a websocket protocol for live subscriptions.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a REST client for the document store.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	retry      RetryConfig
}

// Config holds client configuration.
type Config struct {
	URL        string
	ServiceKey string
	HTTPClient *http.Client
	Retry      *RetryConfig
}

// RetryConfig configures retry behavior for transient store failures.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// NewClient creates a new document store client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("store service key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

// From starts a query builder for a collection.
func (c *Client) From(collection string) *QueryBuilder {
	return &QueryBuilder{client: c, collection: collection}
}

// QueryBuilder builds collection queries.
type QueryBuilder struct {
	client     *Client
	collection string
	columns    string
	filters    []string
	orders     []string
	limit      int
	single     bool
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=eq.%v", column, value))
	return q
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=lt.%v", column, value))
	return q
}

// Is adds an IS filter (for NULL, TRUE, FALSE).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=is.%v", column, value))
	return q
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the maximum number of documents returned.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Single expects exactly one document.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

func (q *QueryBuilder) query() string {
	params := url.Values{}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) == 2 {
			params.Add(parts[0], parts[1])
		}
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.limit))
	}
	return params.Encode()
}

// Execute executes a SELECT query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	headers := http.Header{}
	if q.single {
		headers.Set("Accept", "application/vnd.pgrst.object+json")
	}
	return q.client.request(ctx, http.MethodGet, q.collection, nil, q.query(), headers)
}

// ExecuteInsert inserts a document.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, doc any) (*Response, error) {
	headers := http.Header{}
	headers.Set("Prefer", "return=representation")
	return q.client.request(ctx, http.MethodPost, q.collection, doc, "", headers)
}

// ExecuteUpdate patches documents matching the filters.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, patch any) (*Response, error) {
	headers := http.Header{}
	headers.Set("Prefer", "return=representation")
	return q.client.request(ctx, http.MethodPatch, q.collection, patch, q.query(), headers)
}

// ExecuteDelete deletes documents matching the filters.
func (q *QueryBuilder) ExecuteDelete(ctx context.Context) (*Response, error) {
	return q.client.request(ctx, http.MethodDelete, q.collection, nil, q.query(), nil)
}

// RPC calls a named server-side procedure. Counter increments go through
// RPCs so concurrent updates are applied against current persisted values
// inside a single server-side call.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	return c.request(ctx, http.MethodPost, "rpc/"+fn, params, "", nil)
}

// Response is a raw store API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Err returns an error if the response indicates failure.
func (r *Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}
	if r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusNotAcceptable {
		return ErrNotFound
	}
	if r.StatusCode == http.StatusConflict {
		return ErrConflict
	}

	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &errResp); err == nil {
		if errResp.Message != "" {
			return fmt.Errorf("store error %d: %s", r.StatusCode, errResp.Message)
		}
		if errResp.Error != "" {
			return fmt.Errorf("store error %d: %s", r.StatusCode, errResp.Error)
		}
	}
	return fmt.Errorf("store error: status %d", r.StatusCode)
}

const maxResponseBytes = 8 << 20

func (c *Client) request(ctx context.Context, method, path string, body any, query string, headers http.Header) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	if query != "" {
		reqURL += "?" + query
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	var resp *Response
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		resp, lastErr = c.doOnce(ctx, method, reqURL, jsonBody, headers)
		if lastErr != nil {
			continue
		}
		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("store request: %w", lastErr)
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, method, reqURL string, jsonBody []byte, headers http.Header) (*Response, error) {
	var reader io.Reader
	if jsonBody != nil {
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Accept", "application/json")
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
	}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.retry.InitialBackoff) * math.Pow(c.retry.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.retry.MaxBackoff) {
		d = float64(c.retry.MaxBackoff)
	}
	if c.retry.Jitter > 0 {
		d += d * c.retry.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
