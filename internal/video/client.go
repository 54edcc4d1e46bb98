// Package video integrates the hosted video platform: live stream
// provisioning, viewer stats, and webhook signature verification.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// LiveStream is a provisioned ingest endpoint on the video platform.
type LiveStream struct {
	ID         string
	StreamKey  string
	PlaybackID string
	RTMPURL    string
}

// Platform is the video platform operations the stream service needs.
type Platform interface {
	CreateLiveStream(ctx context.Context, passthrough string) (*LiveStream, error)
	DeleteLiveStream(ctx context.Context, streamID string) error
	ViewerCount(ctx context.Context, playbackID string) (int64, error)
}

// Client is the HTTP client for the video platform API.
type Client struct {
	baseURL     string
	tokenID     string
	tokenSecret string
	rtmpURL     string
	httpClient  *http.Client
}

// ClientConfig configures the video platform client.
type ClientConfig struct {
	BaseURL     string
	TokenID     string
	TokenSecret string
	RTMPURL     string
	HTTPClient  *http.Client
}

// NewClient creates a video platform client. An empty token disables stream
// provisioning; CreateLiveStream then returns an error callers treat as an
// external-dependency failure.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mux.com"
	}
	rtmpURL := cfg.RTMPURL
	if rtmpURL == "" {
		rtmpURL = "rtmps://global-live.mux.com:443/app"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		tokenID:     cfg.TokenID,
		tokenSecret: cfg.TokenSecret,
		rtmpURL:     rtmpURL,
		httpClient:  httpClient,
	}
}

var _ Platform = (*Client)(nil)

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c.tokenID != "" && c.tokenSecret != ""
}

// CreateLiveStream provisions a new live stream with its ingest key and
// playback ID.
func (c *Client) CreateLiveStream(ctx context.Context, passthrough string) (*LiveStream, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("video platform credentials not configured")
	}

	body, err := c.do(ctx, http.MethodPost, "/video/v1/live-streams", map[string]any{
		"playback_policy":     []string{"public"},
		"new_asset_settings":  map[string]any{"playback_policy": []string{"public"}},
		"latency_mode":        "low",
		"reconnect_window":    60,
		"passthrough":         passthrough,
	})
	if err != nil {
		return nil, fmt.Errorf("create live stream: %w", err)
	}

	data := gjson.GetBytes(body, "data")
	ls := &LiveStream{
		ID:         data.Get("id").String(),
		StreamKey:  data.Get("stream_key").String(),
		PlaybackID: data.Get("playback_ids.0.id").String(),
		RTMPURL:    c.rtmpURL,
	}
	if ls.ID == "" || ls.StreamKey == "" {
		return nil, fmt.Errorf("create live stream: malformed platform response")
	}
	return ls, nil
}

// DeleteLiveStream tears down a live stream. Callers treat failures as
// non-fatal during stream end.
func (c *Client) DeleteLiveStream(ctx context.Context, streamID string) error {
	if !c.Configured() {
		return fmt.Errorf("video platform credentials not configured")
	}

	_, err := c.do(ctx, http.MethodDelete, "/video/v1/live-streams/"+streamID, nil)
	if err != nil {
		return fmt.Errorf("delete live stream: %w", err)
	}
	return nil
}

// ViewerCount returns the concurrent viewer count for a playback ID.
func (c *Client) ViewerCount(ctx context.Context, playbackID string) (int64, error) {
	if !c.Configured() {
		return 0, fmt.Errorf("video platform credentials not configured")
	}

	body, err := c.do(ctx, http.MethodGet, "/data/v1/realtime/metrics/current-concurrent-viewers?filters[]=playback_id:"+playbackID, nil)
	if err != nil {
		return 0, fmt.Errorf("viewer count: %w", err)
	}

	return gjson.GetBytes(body, "data.0.value").Int(), nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.tokenID, c.tokenSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(body, "error.messages.0").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("platform API %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
