package gift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opnode-live/opnode/internal/chat"
	"github.com/opnode-live/opnode/internal/lightning"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/payments"
	"github.com/opnode-live/opnode/internal/store"
)

// State is the position of a gift attempt in the settlement flow.
type State string

const (
	StateIdle             State = "idle"
	StatePreparing        State = "preparing"
	StateParsing          State = "parsing"
	StateAwaitingFeeQuote State = "awaitingFeeEstimate"
	StateSending          State = "sending"
	StateSettled          State = "settled"
)

// Orchestrator drives a single gift attempt through the settlement flow:
// invoice relay, SDK parse/prepare/send, persistence writes, and fan-out.
type Orchestrator struct {
	store    store.Store
	sdk      lightning.SDK
	invoices InvoiceSource
	chat     *chat.Service
	payments *payments.Service
	metrics  *Metrics
	logger   *logging.Logger
}

// NewOrchestrator creates a gift orchestrator.
func NewOrchestrator(st store.Store, sdk lightning.SDK, invoices InvoiceSource, chatSvc *chat.Service, paySvc *payments.Service, metrics *Metrics, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		sdk:      sdk,
		invoices: invoices,
		chat:     chatSvc,
		payments: paySvc,
		metrics:  metrics,
		logger:   logger,
	}
}

// SendParams describes one gift attempt.
type SendParams struct {
	StreamID     string
	SenderID     string
	SenderName   string
	SenderAvatar string
	AmountSats   int64
	Type         string
}

// Result is the outcome of a settled gift attempt.
type Result struct {
	GiftID      string           `json:"giftId"`
	PaymentHash string           `json:"paymentHash"`
	FeeSats     int64            `json:"feeSats"`
	Status      model.GiftStatus `json:"status"`
}

// Send runs the settlement flow. No persistence writes happen before the
// network send begins, so an early failure leaves no records behind. After
// the send starts, the gift record exists and always reaches a terminal
// status within this call; the reconciler covers crashes in between.
func (o *Orchestrator) Send(ctx context.Context, p SendParams) (*Result, error) {
	start := time.Now()
	state := StateIdle

	result, err := o.send(ctx, p, &state)
	o.metrics.ObserveSend(state, err, time.Since(start))
	if err != nil {
		o.logger.Warn(ctx, "gift send failed", map[string]any{
			"stream_id": p.StreamID,
			"sender_id": p.SenderID,
			"state":     string(state),
			"error":     err.Error(),
		})
	}
	return result, err
}

func (o *Orchestrator) send(ctx context.Context, p SendParams, state *State) (*Result, error) {
	if p.StreamID == "" || p.SenderID == "" || p.AmountSats <= 0 {
		return nil, fmt.Errorf("streamId, senderId and a positive amountSats are required")
	}
	if p.Type == "" {
		p.Type = "gift"
	}

	*state = StatePreparing

	if _, err := o.sdk.NodeInfo(ctx); err != nil {
		if errors.Is(err, lightning.ErrNotConnected) {
			return nil, ErrWalletNotConnected
		}
		return nil, fmt.Errorf("%w: %v", ErrSDKNotReady, err)
	}

	stream, err := o.store.GetStream(ctx, p.StreamID)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	if err := o.checkReceivingKey(ctx, stream); err != nil {
		return nil, err
	}

	// Step 1: eligibility + invoice via the relay. No records exist yet, so
	// a failure here is clean.
	paymentRequest, err := o.invoices.RequestInvoice(ctx, p.StreamID, p.AmountSats)
	if err != nil {
		return nil, err
	}

	// Step 2: parse.
	*state = StateParsing
	invoice, err := o.sdk.ParseInvoice(ctx, paymentRequest)
	if err != nil {
		if errors.Is(err, lightning.ErrUnsupportedInvoice) {
			return nil, fmt.Errorf("%w: %v", ErrParseRejected, err)
		}
		return nil, fmt.Errorf("parse invoice: %w", err)
	}

	// Step 3: fee estimate.
	*state = StateAwaitingFeeQuote
	prepared, err := o.sdk.PrepareSend(ctx, invoice)
	if err != nil {
		if errors.Is(err, lightning.ErrInsufficientFunds) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("prepare payment: %w", err)
	}

	// Step 4+5: the send begins; record the pending gift correlated with
	// the invoice's payment hash, plus the sender-side history entry.
	*state = StateSending
	g := &model.Gift{
		ID:          uuid.New().String(),
		StreamID:    p.StreamID,
		SenderID:    p.SenderID,
		SenderName:  p.SenderName,
		RecipientID: stream.HostID,
		AmountSats:  p.AmountSats,
		Type:        p.Type,
		PaymentHash: invoice.PaymentHash,
		Status:      model.GiftPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateGift(ctx, g); err != nil {
		return nil, fmt.Errorf("create gift record: %w", err)
	}
	if err := o.payments.RecordSent(ctx, p.SenderID, p.AmountSats, p.StreamID, g.ID, invoice.PaymentHash); err != nil {
		o.logger.Error(ctx, "record sent payment failed", err, map[string]any{"gift_id": g.ID})
	}

	sendRes, sendErr := o.sdk.SendPayment(ctx, prepared)

	// Step 6: finalize. Failure paths are best-effort: a failed patch is
	// logged, never retried inline (the reconciler picks up leftovers).
	*state = StateSettled
	if sendErr != nil {
		o.failGift(ctx, g.ID)
		if errors.Is(sendErr, lightning.ErrInsufficientFunds) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, sendErr)
	}

	paymentHash := invoice.PaymentHash
	if sendRes.PaymentHash != "" {
		paymentHash = sendRes.PaymentHash
	}

	// Counters and fan-out are tied to winning the pending->completed
	// transition. If the reconciler settled this gift while the send was in
	// flight, it already applied the counters.
	switch err := o.store.UpdateGiftStatus(ctx, g.ID, model.GiftCompleted, paymentHash); {
	case err == nil:
		if err := o.store.IncrementStreamCounters(ctx, p.StreamID, p.AmountSats, 1); err != nil {
			o.logger.Error(ctx, "increment stream counters failed", err, map[string]any{"gift_id": g.ID})
		}
		o.fanOut(ctx, g, p)
	case errors.Is(err, store.ErrTerminalGift):
		o.logger.Warn(ctx, "gift settled concurrently", map[string]any{"gift_id": g.ID})
	default:
		// The gift stays pending; the reconciler applies the counters when
		// it completes it.
		o.logger.Error(ctx, "complete gift record failed", err, map[string]any{"gift_id": g.ID})
	}

	return &Result{
		GiftID:      g.ID,
		PaymentHash: paymentHash,
		FeeSats:     sendRes.FeeSats,
		Status:      model.GiftCompleted,
	}, nil
}

// checkReceivingKey confirms the recipient can receive, falling back from
// the wallet profile to the user profile's Lightning address.
func (o *Orchestrator) checkReceivingKey(ctx context.Context, stream *model.Stream) error {
	if wp, err := o.store.GetWalletProfile(ctx, stream.HostID); err == nil && wp.ReceivingKey != "" {
		return nil
	}
	if up, err := o.store.GetUserProfile(ctx, stream.HostID); err == nil && up.LightningAddress != "" {
		return nil
	}
	return ErrNoReceivingKey
}

func (o *Orchestrator) failGift(ctx context.Context, giftID string) {
	if err := o.store.UpdateGiftStatus(ctx, giftID, model.GiftFailed, ""); err != nil {
		o.logger.Error(ctx, "mark gift failed errored", err, map[string]any{"gift_id": giftID})
	}
}

// fanOut emits the chat gift message and the recipient notification. Both
// are independent of the gift/earnings writes and best-effort.
func (o *Orchestrator) fanOut(ctx context.Context, g *model.Gift, p SendParams) {
	if _, err := o.chat.PostGift(ctx, g, p.SenderName, p.SenderAvatar); err != nil {
		o.logger.Error(ctx, "gift chat message failed", err, map[string]any{"gift_id": g.ID})
	}

	notif := &model.Notification{
		ID:         uuid.New().String(),
		UserID:     g.RecipientID,
		Type:       "gift",
		Title:      fmt.Sprintf("%s sent you %d sats", p.SenderName, g.AmountSats),
		AmountSats: g.AmountSats,
		StreamID:   g.StreamID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.CreateNotification(ctx, notif); err != nil {
		o.logger.Error(ctx, "gift notification failed", err, map[string]any{"gift_id": g.ID})
	}
}
