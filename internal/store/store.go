package store

import (
	"context"
	"errors"
	"time"

	"github.com/opnode-live/opnode/internal/model"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("conflict")
	// ErrTerminalGift is returned when a status transition is attempted on
	// a gift already in a terminal state.
	ErrTerminalGift = errors.New("gift already in terminal state")
)

// Store is the persistence contract for all OPNODE collections. The hosted
// document store exclusively owns the data; no caller caches authoritative
// state.
type Store interface {
	// Streams.
	CreateStream(ctx context.Context, s *model.Stream) error
	GetStream(ctx context.Context, id string) (*model.Stream, error)
	GetStreamByMuxID(ctx context.Context, muxStreamID string) (*model.Stream, error)
	ListStreams(ctx context.Context, onlyLive bool, category string, limit int) ([]*model.Stream, error)
	PatchStream(ctx context.Context, id string, patch map[string]any) error
	// IncrementStreamCounters applies the per-gift counter updates via a
	// named server-side procedure so concurrent increments are lossless.
	IncrementStreamCounters(ctx context.Context, streamID string, earningsSats, gifts int64) error
	IncrementStreamViewers(ctx context.Context, streamID string, delta int64) error

	// Gifts.
	CreateGift(ctx context.Context, g *model.Gift) error
	GetGift(ctx context.Context, id string) (*model.Gift, error)
	// UpdateGiftStatus transitions a gift out of pending. Transitions from
	// a terminal state return ErrTerminalGift.
	UpdateGiftStatus(ctx context.Context, id string, status model.GiftStatus, paymentHash string) error
	ListPendingGiftsBefore(ctx context.Context, cutoff time.Time) ([]*model.Gift, error)

	// Chat.
	CreateChatMessage(ctx context.Context, m *model.ChatMessage) error
	// ListChatMessages returns up to limit messages in chronological order
	// (retrieved most-recent-first, reversed for display).
	ListChatMessages(ctx context.Context, streamID string, limit int) ([]*model.ChatMessage, error)

	// Payment history.
	CreatePaymentEntry(ctx context.Context, e *model.PaymentEntry) error
	PaymentEntryExists(ctx context.Context, userID, paymentHash string, direction model.PaymentDirection) (bool, error)
	ListPaymentEntries(ctx context.Context, userID string, limit int) ([]*model.PaymentEntry, error)

	// User profiles.
	CreateUserProfile(ctx context.Context, p *model.UserProfile) error
	GetUserProfile(ctx context.Context, id string) (*model.UserProfile, error)
	GetUserProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error)
	IncrementUserEarnings(ctx context.Context, userID string, amountSats int64) error

	// Wallet profiles.
	GetWalletProfile(ctx context.Context, userID string) (*model.WalletProfile, error)
	UpsertWalletProfile(ctx context.Context, p *model.WalletProfile) error

	// Notifications.
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error)

	// Invoice requests.
	CreateInvoiceRequest(ctx context.Context, r *model.InvoiceRequest) error
	GetInvoiceRequest(ctx context.Context, id string) (*model.InvoiceRequest, error)
	FulfillInvoiceRequest(ctx context.Context, id, paymentRequest string) error
	ExpireInvoiceRequest(ctx context.Context, id string) error

	// Moderation and settings.
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
	CreateReport(ctx context.Context, r *model.Report) error
	GetStreamSettings(ctx context.Context, userID string) (*model.StreamSettings, error)
}
