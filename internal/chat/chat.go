// Package chat manages the per-stream message feed. Gifts share the feed:
// a gift message is a chat message with is_gift set, so a renderer only ever
// branches on one flag.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
)

// DefaultMessageLimit bounds a feed read when the caller supplies none.
const DefaultMessageLimit = 50

// Service is the chat feed service.
type Service struct {
	store  store.Store
	logger *logging.Logger
}

// NewService creates a chat service.
func NewService(st store.Store, logger *logging.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// PostParams describes a plain chat message.
type PostParams struct {
	StreamID string
	UserID   string
	Username string
	Avatar   string
	Message  string
}

// Post inserts a plain chat message after block and settings checks.
func (s *Service) Post(ctx context.Context, p PostParams) (*model.ChatMessage, error) {
	if p.StreamID == "" || p.UserID == "" || p.Message == "" {
		return nil, fmt.Errorf("streamId, userId and message are required")
	}

	stream, err := s.store.GetStream(ctx, p.StreamID)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	blocked, err := s.store.IsBlocked(ctx, stream.HostID, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("check blocked: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("user is blocked from this chat")
	}

	if settings, err := s.store.GetStreamSettings(ctx, stream.HostID); err == nil && !settings.ChatEnabled {
		return nil, fmt.Errorf("chat is disabled for this stream")
	}

	msg := &model.ChatMessage{
		ID:        uuid.New().String(),
		StreamID:  p.StreamID,
		UserID:    p.UserID,
		Username:  p.Username,
		Avatar:    p.Avatar,
		Message:   p.Message,
		IsHost:    p.UserID == stream.HostID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create chat message: %w", err)
	}
	return msg, nil
}

// PostGift synthesizes the gift announcement message for the feed. Callers
// treat a failure here as best-effort: the gift itself has already settled.
func (s *Service) PostGift(ctx context.Context, gift *model.Gift, username, avatar string) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		ID:         uuid.New().String(),
		StreamID:   gift.StreamID,
		UserID:     gift.SenderID,
		Username:   username,
		Avatar:     avatar,
		Message:    fmt.Sprintf("Sent %d sats %s", gift.AmountSats, gift.Type),
		IsGift:     true,
		GiftAmount: gift.AmountSats,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create gift message: %w", err)
	}
	return msg, nil
}

// List returns the feed in display (chronological) order, bounded by limit.
func (s *Service) List(ctx context.Context, streamID string, limit int) ([]*model.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	msgs, err := s.store.ListChatMessages(ctx, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return msgs, nil
}
