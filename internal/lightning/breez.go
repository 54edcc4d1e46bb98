package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// BreezClient talks to the hosted wallet SDK daemon over HTTP. The daemon's
// response shapes are loose (field names vary across SDK versions); every
// shape is mapped to the normalized types here and nowhere else.
type BreezClient struct {
	mu         sync.RWMutex
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
	connected  bool
}

// BreezConfig configures the SDK client.
type BreezConfig struct {
	BaseURL    string
	APIKey     string
	Network    string
	HTTPClient *http.Client
}

// NewBreezClient creates an SDK client. Connect must be called before use.
func NewBreezClient(cfg BreezConfig) (*BreezClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("wallet API URL is required")
	}
	if !IsValidNetwork(cfg.Network) {
		return nil, fmt.Errorf("invalid network %q", cfg.Network)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &BreezClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		network:    cfg.Network,
		httpClient: httpClient,
	}, nil
}

var _ SDK = (*BreezClient)(nil)

// Connect initializes the node session on the daemon.
func (c *BreezClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	_, err := c.post(ctx, "/v1/connect", map[string]any{"network": c.network})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.connected = true
	return nil
}

// Disconnect disposes the node session.
func (c *BreezClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	_, err := c.post(ctx, "/v1/disconnect", nil)
	c.connected = false
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (c *BreezClient) NodeInfo(ctx context.Context) (*NodeInfo, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/v1/node/info", nil)
	if err != nil {
		return nil, fmt.Errorf("node info: %w", err)
	}

	res := gjson.ParseBytes(body)
	balance := firstInt(res, "balance_sat", "balance_sats")
	if balance == 0 {
		if msat := firstInt(res, "channels_balance_msat", "balance_msat"); msat > 0 {
			balance = msat / 1000
		}
	}
	return &NodeInfo{
		Pubkey:      firstString(res, "id", "pubkey", "node_id"),
		Network:     firstString(res, "network"),
		BalanceSats: balance,
	}, nil
}

func (c *BreezClient) ParseInvoice(ctx context.Context, paymentRequest string) (*Invoice, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/v1/parse", map[string]any{"input": paymentRequest})
	if err != nil {
		return nil, fmt.Errorf("parse invoice: %w", err)
	}

	res := gjson.ParseBytes(body)
	kind := strings.ToLower(firstString(res, "type", "input_type"))
	if kind != "" && kind != "bolt11" && kind != "invoice" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInvoice, kind)
	}

	inv := res.Get("invoice")
	if !inv.Exists() {
		inv = res
	}

	amount := firstInt(inv, "amount_sat", "amount_sats")
	if amount == 0 {
		// Older daemons report millisats only.
		if msat := firstInt(inv, "amount_msat"); msat > 0 {
			amount = msat / 1000
		}
	}

	parsed := &Invoice{
		PaymentRequest: paymentRequest,
		PaymentHash:    firstString(inv, "payment_hash", "payment_hash_hex"),
		AmountSats:     amount,
		Description:    firstString(inv, "description", "memo"),
		ExpirySecs:     firstInt(inv, "expiry", "expiry_secs"),
	}
	if parsed.PaymentHash == "" {
		return nil, fmt.Errorf("%w: missing payment hash", ErrUnsupportedInvoice)
	}
	return parsed, nil
}

func (c *BreezClient) PrepareSend(ctx context.Context, invoice *Invoice) (*PreparedPayment, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/v1/payments/prepare", map[string]any{
		"payment_request": invoice.PaymentRequest,
	})
	if err != nil {
		if isInsufficientFunds(err) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("prepare send: %w", err)
	}

	res := gjson.ParseBytes(body)
	fee := firstInt(res, "fee_sat", "fees_sat", "total_fees_sat")
	if fee == 0 {
		if msat := firstInt(res, "fee_msat", "fees_msat"); msat > 0 {
			fee = msat / 1000
		}
	}

	return &PreparedPayment{Invoice: invoice, FeeSats: fee}, nil
}

func (c *BreezClient) SendPayment(ctx context.Context, prepared *PreparedPayment) (*SendResult, error) {
	if err := c.requireConnected(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/v1/payments/send", map[string]any{
		"payment_request": prepared.Invoice.PaymentRequest,
	})
	if err != nil {
		if isInsufficientFunds(err) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	res := gjson.ParseBytes(body)
	payment := res.Get("payment")
	if !payment.Exists() {
		payment = res
	}

	result := &SendResult{
		PaymentHash: firstString(payment, "payment_hash", "id", "hash"),
		Preimage:    firstString(payment, "payment_preimage", "preimage"),
		FeeSats:     firstInt(payment, "fee_sat", "fees_sat"),
		State:       mapPaymentState(firstString(payment, "status", "state")),
	}
	if result.PaymentHash == "" {
		result.PaymentHash = prepared.Invoice.PaymentHash
	}
	if result.State == PaymentStateFailed {
		return result, ErrPaymentFailed
	}
	return result, nil
}

func (c *BreezClient) PaymentStatus(ctx context.Context, paymentHash string) (PaymentState, error) {
	if err := c.requireConnected(); err != nil {
		return PaymentStateUnknown, err
	}

	body, err := c.post(ctx, "/v1/payments/status", map[string]any{
		"payment_hash": paymentHash,
	})
	if err != nil {
		return PaymentStateUnknown, fmt.Errorf("payment status: %w", err)
	}

	res := gjson.ParseBytes(body)
	return mapPaymentState(firstString(res, "status", "state")), nil
}

func (c *BreezClient) requireConnected() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

func (c *BreezClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("wallet daemon %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}

// firstString returns the first non-empty string among the candidate fields.
func firstString(res gjson.Result, fields ...string) string {
	for _, f := range fields {
		if v := res.Get(f); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// firstInt returns the first non-zero integer among the candidate fields.
func firstInt(res gjson.Result, fields ...string) int64 {
	for _, f := range fields {
		if v := res.Get(f); v.Exists() && v.Int() != 0 {
			return v.Int()
		}
	}
	return 0
}

func mapPaymentState(s string) PaymentState {
	switch strings.ToLower(s) {
	case "complete", "completed", "succeeded", "success":
		return PaymentStateSucceeded
	case "failed", "failure":
		return PaymentStateFailed
	case "pending", "inflight", "in_flight":
		return PaymentStatePending
	}
	return PaymentStateUnknown
}

func isInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "insufficient balance") ||
		strings.Contains(msg, "not enough funds")
}
