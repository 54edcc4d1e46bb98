package store

import (
	"context"
	"fmt"
	"time"

	"github.com/opnode-live/opnode/internal/model"
)

// Collection names.
const (
	colStreams         = "streams"
	colGifts           = "gifts"
	colChatMessages    = "chat_messages"
	colPaymentHistory  = "payment_history"
	colUserProfiles    = "user_profiles"
	colWalletProfiles  = "wallet_profiles"
	colNotifications   = "notifications"
	colInvoiceRequests = "invoice_requests"
	colBlockedUsers    = "blocked_users"
	colReports         = "reports"
	colStreamSettings  = "stream_settings"
)

// RestStore implements Store against the hosted document store REST API.
type RestStore struct {
	client *Client
}

// NewRestStore creates a Store backed by the given client.
func NewRestStore(client *Client) *RestStore {
	return &RestStore{client: client}
}

var _ Store = (*RestStore)(nil)

// =============================================================================
// Streams
// =============================================================================

func (s *RestStore) CreateStream(ctx context.Context, st *model.Stream) error {
	return s.insert(ctx, colStreams, st)
}

func (s *RestStore) GetStream(ctx context.Context, id string) (*model.Stream, error) {
	var st model.Stream
	if err := s.getOne(ctx, s.client.From(colStreams).Eq("id", id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RestStore) GetStreamByMuxID(ctx context.Context, muxStreamID string) (*model.Stream, error) {
	var st model.Stream
	if err := s.getOne(ctx, s.client.From(colStreams).Eq("mux_stream_id", muxStreamID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RestStore) ListStreams(ctx context.Context, onlyLive bool, category string, limit int) ([]*model.Stream, error) {
	q := s.client.From(colStreams).Order("created_at", false).Limit(limit)
	if onlyLive {
		q = q.Eq("is_live", true)
	}
	if category != "" {
		q = q.Eq("category", category)
	}

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var streams []*model.Stream
	if err := resp.JSON(&streams); err != nil {
		return nil, fmt.Errorf("decode streams: %w", err)
	}
	return streams, nil
}

func (s *RestStore) PatchStream(ctx context.Context, id string, patch map[string]any) error {
	resp, err := s.client.From(colStreams).Eq("id", id).ExecuteUpdate(ctx, patch)
	if err != nil {
		return fmt.Errorf("patch stream: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if emptyResult(resp) {
		return ErrNotFound
	}
	return nil
}

func (s *RestStore) IncrementStreamCounters(ctx context.Context, streamID string, earningsSats, gifts int64) error {
	resp, err := s.client.RPC(ctx, "increment_stream_counters", map[string]any{
		"p_stream_id": streamID,
		"p_earnings":  earningsSats,
		"p_gifts":     gifts,
	})
	if err != nil {
		return fmt.Errorf("increment stream counters: %w", err)
	}
	return resp.Err()
}

func (s *RestStore) IncrementStreamViewers(ctx context.Context, streamID string, delta int64) error {
	resp, err := s.client.RPC(ctx, "increment_stream_viewers", map[string]any{
		"p_stream_id": streamID,
		"p_delta":     delta,
	})
	if err != nil {
		return fmt.Errorf("increment stream viewers: %w", err)
	}
	return resp.Err()
}

// =============================================================================
// Gifts
// =============================================================================

func (s *RestStore) CreateGift(ctx context.Context, g *model.Gift) error {
	return s.insert(ctx, colGifts, g)
}

func (s *RestStore) GetGift(ctx context.Context, id string) (*model.Gift, error) {
	var g model.Gift
	if err := s.getOne(ctx, s.client.From(colGifts).Eq("id", id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *RestStore) UpdateGiftStatus(ctx context.Context, id string, status model.GiftStatus, paymentHash string) error {
	patch := map[string]any{"status": status}
	if paymentHash != "" {
		patch["payment_hash"] = paymentHash
	}

	// Guard the transition server-side: only pending gifts match.
	resp, err := s.client.From(colGifts).
		Eq("id", id).
		Eq("status", model.GiftPending).
		ExecuteUpdate(ctx, patch)
	if err != nil {
		return fmt.Errorf("update gift status: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if !emptyResult(resp) {
		return nil
	}

	// Nothing matched: either the gift is gone or already terminal.
	g, err := s.GetGift(ctx, id)
	if err != nil {
		return err
	}
	if g.Status.Terminal() {
		return ErrTerminalGift
	}
	return ErrNotFound
}

func (s *RestStore) ListPendingGiftsBefore(ctx context.Context, cutoff time.Time) ([]*model.Gift, error) {
	resp, err := s.client.From(colGifts).
		Eq("status", model.GiftPending).
		Lt("created_at", cutoff.UTC().Format(time.RFC3339)).
		Order("created_at", true).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending gifts: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var gifts []*model.Gift
	if err := resp.JSON(&gifts); err != nil {
		return nil, fmt.Errorf("decode gifts: %w", err)
	}
	return gifts, nil
}

// =============================================================================
// Chat
// =============================================================================

func (s *RestStore) CreateChatMessage(ctx context.Context, m *model.ChatMessage) error {
	return s.insert(ctx, colChatMessages, m)
}

func (s *RestStore) ListChatMessages(ctx context.Context, streamID string, limit int) ([]*model.ChatMessage, error) {
	resp, err := s.client.From(colChatMessages).
		Eq("stream_id", streamID).
		Order("created_at", false).
		Limit(limit).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var msgs []*model.ChatMessage
	if err := resp.JSON(&msgs); err != nil {
		return nil, fmt.Errorf("decode chat messages: %w", err)
	}

	// Retrieved most-recent-first; reverse so display order is insertion
	// order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// =============================================================================
// Payment history
// =============================================================================

func (s *RestStore) CreatePaymentEntry(ctx context.Context, e *model.PaymentEntry) error {
	return s.insert(ctx, colPaymentHistory, e)
}

func (s *RestStore) PaymentEntryExists(ctx context.Context, userID, paymentHash string, direction model.PaymentDirection) (bool, error) {
	resp, err := s.client.From(colPaymentHistory).
		Select("id").
		Eq("user_id", userID).
		Eq("payment_hash", paymentHash).
		Eq("direction", direction).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return false, fmt.Errorf("check payment entry: %w", err)
	}
	if err := resp.Err(); err != nil {
		return false, err
	}

	var rows []map[string]any
	if err := resp.JSON(&rows); err != nil {
		return false, fmt.Errorf("decode payment entries: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *RestStore) ListPaymentEntries(ctx context.Context, userID string, limit int) ([]*model.PaymentEntry, error) {
	resp, err := s.client.From(colPaymentHistory).
		Eq("user_id", userID).
		Order("created_at", false).
		Limit(limit).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payment entries: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var entries []*model.PaymentEntry
	if err := resp.JSON(&entries); err != nil {
		return nil, fmt.Errorf("decode payment entries: %w", err)
	}
	return entries, nil
}

// =============================================================================
// User profiles
// =============================================================================

func (s *RestStore) CreateUserProfile(ctx context.Context, p *model.UserProfile) error {
	// Username carries a unique index; the store returns 409 on collision.
	return s.insert(ctx, colUserProfiles, p)
}

func (s *RestStore) GetUserProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := s.getOne(ctx, s.client.From(colUserProfiles).Eq("id", id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RestStore) GetUserProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := s.getOne(ctx, s.client.From(colUserProfiles).Eq("username", username), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RestStore) IncrementUserEarnings(ctx context.Context, userID string, amountSats int64) error {
	resp, err := s.client.RPC(ctx, "increment_user_earnings", map[string]any{
		"p_user_id": userID,
		"p_amount":  amountSats,
	})
	if err != nil {
		return fmt.Errorf("increment user earnings: %w", err)
	}
	return resp.Err()
}

// =============================================================================
// Wallet profiles
// =============================================================================

func (s *RestStore) GetWalletProfile(ctx context.Context, userID string) (*model.WalletProfile, error) {
	var p model.WalletProfile
	if err := s.getOne(ctx, s.client.From(colWalletProfiles).Eq("user_id", userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RestStore) UpsertWalletProfile(ctx context.Context, p *model.WalletProfile) error {
	// At most one wallet profile per user: patch in place, insert if absent.
	resp, err := s.client.From(colWalletProfiles).Eq("user_id", p.UserID).ExecuteUpdate(ctx, p)
	if err != nil {
		return fmt.Errorf("update wallet profile: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if !emptyResult(resp) {
		return nil
	}
	return s.insert(ctx, colWalletProfiles, p)
}

// =============================================================================
// Notifications
// =============================================================================

func (s *RestStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return s.insert(ctx, colNotifications, n)
}

func (s *RestStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	q := s.client.From(colNotifications).
		Eq("user_id", userID).
		Order("created_at", false).
		Limit(limit)
	if unreadOnly {
		q = q.Eq("read", false)
	}

	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var ns []*model.Notification
	if err := resp.JSON(&ns); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return ns, nil
}

// =============================================================================
// Invoice requests
// =============================================================================

func (s *RestStore) CreateInvoiceRequest(ctx context.Context, r *model.InvoiceRequest) error {
	return s.insert(ctx, colInvoiceRequests, r)
}

func (s *RestStore) GetInvoiceRequest(ctx context.Context, id string) (*model.InvoiceRequest, error) {
	var r model.InvoiceRequest
	if err := s.getOne(ctx, s.client.From(colInvoiceRequests).Eq("id", id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RestStore) FulfillInvoiceRequest(ctx context.Context, id, paymentRequest string) error {
	resp, err := s.client.From(colInvoiceRequests).
		Eq("id", id).
		Eq("status", model.InvoicePending).
		ExecuteUpdate(ctx, map[string]any{
			"status":          model.InvoiceFulfilled,
			"payment_request": paymentRequest,
		})
	if err != nil {
		return fmt.Errorf("fulfill invoice request: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if emptyResult(resp) {
		return ErrNotFound
	}
	return nil
}

func (s *RestStore) ExpireInvoiceRequest(ctx context.Context, id string) error {
	resp, err := s.client.From(colInvoiceRequests).
		Eq("id", id).
		Eq("status", model.InvoicePending).
		ExecuteUpdate(ctx, map[string]any{"status": model.InvoiceExpired})
	if err != nil {
		return fmt.Errorf("expire invoice request: %w", err)
	}
	return resp.Err()
}

// =============================================================================
// Moderation and settings
// =============================================================================

func (s *RestStore) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	resp, err := s.client.From(colBlockedUsers).
		Select("id").
		Eq("blocker_id", blockerID).
		Eq("blocked_id", blockedID).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return false, fmt.Errorf("check blocked: %w", err)
	}
	if err := resp.Err(); err != nil {
		return false, err
	}

	var rows []map[string]any
	if err := resp.JSON(&rows); err != nil {
		return false, fmt.Errorf("decode blocked users: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *RestStore) CreateReport(ctx context.Context, r *model.Report) error {
	return s.insert(ctx, colReports, r)
}

func (s *RestStore) GetStreamSettings(ctx context.Context, userID string) (*model.StreamSettings, error) {
	var st model.StreamSettings
	if err := s.getOne(ctx, s.client.From(colStreamSettings).Eq("user_id", userID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *RestStore) insert(ctx context.Context, collection string, doc any) error {
	resp, err := s.client.From(collection).ExecuteInsert(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return resp.Err()
}

func (s *RestStore) getOne(ctx context.Context, q *QueryBuilder, target any) error {
	resp, err := q.Single().Execute(ctx)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if err := resp.JSON(target); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

func emptyResult(resp *Response) bool {
	var rows []map[string]any
	if err := resp.JSON(&rows); err != nil {
		return false
	}
	return len(rows) == 0
}
