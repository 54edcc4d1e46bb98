// Package model defines the persisted entities of the OPNODE backend.
package model

import "time"

// GiftStatus is the lifecycle state of a gift. Transitions are
// pending -> completed or pending -> failed only.
type GiftStatus string

const (
	GiftPending   GiftStatus = "pending"
	GiftCompleted GiftStatus = "completed"
	GiftFailed    GiftStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s GiftStatus) Terminal() bool {
	return s == GiftCompleted || s == GiftFailed
}

// PaymentDirection is the direction of a payment history entry.
type PaymentDirection string

const (
	PaymentSent       PaymentDirection = "sent"
	PaymentReceived   PaymentDirection = "received"
	PaymentWithdrawal PaymentDirection = "withdrawal"
)

// InvoiceRequestStatus is the lifecycle state of a relayed invoice request.
type InvoiceRequestStatus string

const (
	InvoicePending   InvoiceRequestStatus = "pending"
	InvoiceFulfilled InvoiceRequestStatus = "fulfilled"
	InvoiceExpired   InvoiceRequestStatus = "expired"
)

// Stream is a broadcast session. Ended streams persist for historical stats;
// totalEarnings and totalGifts only ever increase and are incremented exactly
// once per completed gift.
type Stream struct {
	ID            string   `json:"id"`
	HostID        string   `json:"host_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Category      string   `json:"category,omitempty"`
	IsLive        bool     `json:"is_live"`
	Viewers       int64    `json:"viewers"`
	TotalViews    int64    `json:"total_views"`
	TotalEarnings int64    `json:"total_earnings"`
	TotalGifts    int64    `json:"total_gifts"`

	MuxStreamID        string `json:"mux_stream_id,omitempty"`
	MuxPlaybackID      string `json:"mux_playback_id,omitempty"`
	EncryptedStreamKey string `json:"encrypted_stream_key,omitempty"`
	StreamKeyIV        string `json:"stream_key_iv,omitempty"`
	Bolt12Offer        string `json:"bolt12_offer,omitempty"`
	ThumbnailStorageID string `json:"thumbnail_storage_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StreamStats is the final snapshot returned when a stream ends.
type StreamStats struct {
	Viewers       int64 `json:"viewers"`
	TotalViews    int64 `json:"totalViews"`
	TotalEarnings int64 `json:"totalEarnings"`
	TotalGifts    int64 `json:"totalGifts"`
}

// Gift is a viewer-to-host Lightning micropayment tied to a stream. Amount is
// in sats.
type Gift struct {
	ID          string     `json:"id"`
	StreamID    string     `json:"stream_id"`
	SenderID    string     `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	RecipientID string     `json:"recipient_id"`
	AmountSats  int64      `json:"amount_sats"`
	Type        string     `json:"type"`
	PaymentHash string     `json:"payment_hash,omitempty"`
	Status      GiftStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ChatMessage is one entry in a stream's ordered message feed. Gift messages
// share the shape with IsGift set so rendering stays uniform.
type ChatMessage struct {
	ID         string    `json:"id"`
	StreamID   string    `json:"stream_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Avatar     string    `json:"avatar,omitempty"`
	Message    string    `json:"message"`
	IsHost     bool      `json:"is_host"`
	IsGift     bool      `json:"is_gift"`
	GiftAmount int64     `json:"gift_amount,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PaymentEntry is a payment history record for one user.
type PaymentEntry struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Direction   PaymentDirection `json:"direction"`
	AmountSats  int64            `json:"amount_sats"`
	StreamID    string           `json:"stream_id,omitempty"`
	GiftID      string           `json:"gift_id,omitempty"`
	PaymentHash string           `json:"payment_hash,omitempty"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// UserProfile is a public user identity. Username is globally unique.
type UserProfile struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name"`
	AvatarStorageID  string    `json:"avatar_storage_id,omitempty"`
	BannerStorageID  string    `json:"banner_storage_id,omitempty"`
	Bio              string    `json:"bio,omitempty"`
	Followers        int64     `json:"followers"`
	Following        int64     `json:"following"`
	TotalEarnings    int64     `json:"total_earnings"`
	Verified         bool      `json:"verified"`
	LightningAddress string    `json:"lightning_address,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// WalletProfile is the persisted, encrypted representation of a user's
// embedded wallet. At most one per user.
type WalletProfile struct {
	UserID        string    `json:"user_id"`
	WalletID      string    `json:"wallet_id,omitempty"`
	Network       string    `json:"network"`
	ReceivingKey  string    `json:"receiving_key,omitempty"`
	EncryptedSeed string    `json:"encrypted_seed"`
	SeedIV        string    `json:"seed_iv"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Notification is a per-user feed entry (gift received, payment received).
type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	AmountSats int64     `json:"amount_sats,omitempty"`
	StreamID   string    `json:"stream_id,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// InvoiceRequest relays an invoice-minting request to the host's connected
// wallet session. The host fulfills it with a BOLT11 payment request.
type InvoiceRequest struct {
	ID             string               `json:"id"`
	StreamID       string               `json:"stream_id"`
	HostID         string               `json:"host_id"`
	AmountSats     int64                `json:"amount_sats"`
	Description    string               `json:"description,omitempty"`
	PaymentRequest string               `json:"payment_request,omitempty"`
	Status         InvoiceRequestStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
}

// StreamSettings holds per-user broadcast preferences.
type StreamSettings struct {
	UserID       string `json:"user_id"`
	ChatEnabled  bool   `json:"chat_enabled"`
	GiftsEnabled bool   `json:"gifts_enabled"`
	MinGiftSats  int64  `json:"min_gift_sats"`
	SlowModeSecs int    `json:"slow_mode_secs"`
}

// BlockedUser records one user blocking another.
type BlockedUser struct {
	ID        string    `json:"id"`
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is a user report against a stream or user.
type Report struct {
	ID         string    `json:"id"`
	ReporterID string    `json:"reporter_id"`
	TargetID   string    `json:"target_id"`
	StreamID   string    `json:"stream_id,omitempty"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
