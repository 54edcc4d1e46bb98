// Package payments manages payment history and the inbound payment webhook.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
)

// Service handles payment history and received-payment processing.
type Service struct {
	store  store.Store
	logger *logging.Logger
}

// NewService creates a payments service.
func NewService(st store.Store, logger *logging.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// ReceivedPayment is the payment webhook payload.
type ReceivedPayment struct {
	PaymentHash     string `json:"paymentHash"`
	AmountSats      int64  `json:"amountSats"`
	RecipientUserID string `json:"recipientUserId"`
}

// ProcessReceived handles an inbound payment notification: a received
// history entry, an all-time earnings increment, and a notification. The
// three writes are independent best-effort; later failures are logged and do
// not roll back earlier ones. Duplicate deliveries are dropped on the
// payment hash.
func (s *Service) ProcessReceived(ctx context.Context, p ReceivedPayment) error {
	if p.PaymentHash == "" || p.RecipientUserID == "" || p.AmountSats <= 0 {
		return fmt.Errorf("paymentHash, amountSats and recipientUserId are required")
	}

	exists, err := s.store.PaymentEntryExists(ctx, p.RecipientUserID, p.PaymentHash, model.PaymentReceived)
	if err != nil {
		return fmt.Errorf("check duplicate delivery: %w", err)
	}
	if exists {
		s.logger.Info(ctx, "duplicate payment webhook dropped", map[string]any{
			"payment_hash": p.PaymentHash,
		})
		return nil
	}

	entry := &model.PaymentEntry{
		ID:          uuid.New().String(),
		UserID:      p.RecipientUserID,
		Direction:   model.PaymentReceived,
		AmountSats:  p.AmountSats,
		PaymentHash: p.PaymentHash,
		Status:      "completed",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreatePaymentEntry(ctx, entry); err != nil {
		return fmt.Errorf("create payment entry: %w", err)
	}

	if err := s.store.IncrementUserEarnings(ctx, p.RecipientUserID, p.AmountSats); err != nil {
		s.logger.Error(ctx, "increment all-time earnings failed", err, map[string]any{
			"user_id": p.RecipientUserID,
		})
	}

	notif := &model.Notification{
		ID:         uuid.New().String(),
		UserID:     p.RecipientUserID,
		Type:       "payment",
		Title:      fmt.Sprintf("Received %d sats", p.AmountSats),
		AmountSats: p.AmountSats,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, notif); err != nil {
		s.logger.Error(ctx, "create payment notification failed", err, map[string]any{
			"user_id": p.RecipientUserID,
		})
	}

	return nil
}

// RecordSent appends a sender-side pending entry before network
// confirmation.
func (s *Service) RecordSent(ctx context.Context, userID string, amountSats int64, streamID, giftID, paymentHash string) error {
	entry := &model.PaymentEntry{
		ID:          uuid.New().String(),
		UserID:      userID,
		Direction:   model.PaymentSent,
		AmountSats:  amountSats,
		StreamID:    streamID,
		GiftID:      giftID,
		PaymentHash: paymentHash,
		Status:      "pending",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreatePaymentEntry(ctx, entry); err != nil {
		return fmt.Errorf("create payment entry: %w", err)
	}
	return nil
}

// History returns a user's payment history, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.PaymentEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.store.ListPaymentEntries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payment entries: %w", err)
	}
	return entries, nil
}
