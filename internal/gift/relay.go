package gift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
)

// InvoiceSource obtains a BOLT11 payment request for a gift. Invoice minting
// happens in the host's connected wallet session, so gifting is only
// possible while that session is live. That is a product constraint, not a
// bug.
type InvoiceSource interface {
	RequestInvoice(ctx context.Context, streamID string, amountSats int64) (string, error)
}

// Relay confirms gift eligibility and relays invoice requests to the host's
// session through the invoice_requests collection.
type Relay struct {
	store    store.Store
	realtime *store.Realtime
	timeout  time.Duration
	logger   *logging.Logger
}

// NewRelay creates an invoice relay. realtime may be nil; the relay then
// polls the request document instead of subscribing.
func NewRelay(st store.Store, realtime *store.Realtime, timeout time.Duration, logger *logging.Logger) *Relay {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Relay{store: st, realtime: realtime, timeout: timeout, logger: logger}
}

var _ InvoiceSource = (*Relay)(nil)

// CheckEligibility confirms the stream and the host's wallet profile exist
// before any payment flow begins. It returns the host's user ID.
func (r *Relay) CheckEligibility(ctx context.Context, streamID string, amountSats int64) (string, error) {
	if streamID == "" || amountSats <= 0 {
		return "", fmt.Errorf("streamId and a positive amountSats are required")
	}

	stream, err := r.store.GetStream(ctx, streamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("stream not found: %w", err)
		}
		return "", fmt.Errorf("get stream: %w", err)
	}

	profile, err := r.store.GetWalletProfile(ctx, stream.HostID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNoReceivingKey
		}
		return "", fmt.Errorf("get wallet profile: %w", err)
	}
	if profile.ReceivingKey == "" {
		return "", ErrNoReceivingKey
	}

	return stream.HostID, nil
}

// RequestInvoice creates a pending invoice request and waits for the host's
// session to fulfill it with a payment request. The request expires on
// timeout.
func (r *Relay) RequestInvoice(ctx context.Context, streamID string, amountSats int64) (string, error) {
	hostID, err := r.CheckEligibility(ctx, streamID, amountSats)
	if err != nil {
		return "", err
	}

	req := &model.InvoiceRequest{
		ID:         uuid.New().String(),
		StreamID:   streamID,
		HostID:     hostID,
		AmountSats: amountSats,
		Status:     model.InvoicePending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateInvoiceRequest(ctx, req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoiceRequest, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	paymentRequest, err := r.awaitFulfillment(waitCtx, req.ID)
	if err != nil {
		// Best-effort expiry so the host session stops working on it.
		if expireErr := r.store.ExpireInvoiceRequest(context.WithoutCancel(ctx), req.ID); expireErr != nil {
			r.logger.Warn(ctx, "expire invoice request failed", map[string]any{
				"request_id": req.ID,
				"error":      expireErr.Error(),
			})
		}
		return "", fmt.Errorf("%w: %v", ErrInvoiceRequest, err)
	}
	return paymentRequest, nil
}

func (r *Relay) awaitFulfillment(ctx context.Context, requestID string) (string, error) {
	if r.realtime != nil {
		payload, err := r.realtime.WaitForUpdate(ctx, "invoice_requests", "id=eq."+requestID)
		if err == nil {
			var doc struct {
				Status         model.InvoiceRequestStatus `json:"status"`
				PaymentRequest string                     `json:"payment_request"`
			}
			if jerr := json.Unmarshal(payload, &doc); jerr == nil &&
				doc.Status == model.InvoiceFulfilled && doc.PaymentRequest != "" {
				return doc.PaymentRequest, nil
			}
		}
		// Fall through to polling on subscription trouble; the document is
		// still authoritative.
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("host session did not fulfill the invoice request")
		case <-ticker.C:
			req, err := r.store.GetInvoiceRequest(ctx, requestID)
			if err != nil {
				continue
			}
			switch req.Status {
			case model.InvoiceFulfilled:
				return req.PaymentRequest, nil
			case model.InvoiceExpired:
				return "", fmt.Errorf("invoice request expired")
			}
		}
	}
}
