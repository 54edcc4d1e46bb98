// Package stream owns the broadcast lifecycle: provisioning on the video
// platform, start/end transitions, viewer counters, and webhook-driven
// live-state changes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
	"github.com/opnode-live/opnode/internal/video"
	"github.com/opnode-live/opnode/internal/walletcrypto"
)

// ErrNotHost is returned when a non-host requests host-only data.
var ErrNotHost = errors.New("requester is not the stream host")

// ErrMissingStreamID is returned for a lifecycle webhook event that carries
// no external stream ID.
var ErrMissingStreamID = errors.New("webhook event missing stream id")

// Service is the stream lifecycle service.
type Service struct {
	store    store.Store
	platform video.Platform
	sealer   *walletcrypto.Sealer
	logger   *logging.Logger
}

// NewService creates a stream service.
func NewService(st store.Store, platform video.Platform, sealer *walletcrypto.Sealer, logger *logging.Logger) *Service {
	return &Service{store: st, platform: platform, sealer: sealer, logger: logger}
}

// CreateParams describes a new broadcast session.
type CreateParams struct {
	UserID             string
	Title              string
	Description        string
	Tags               []string
	Category           string
	ThumbnailStorageID string
	Bolt12Offer        string
}

// Create provisions a live stream on the video platform and persists the
// stream with its key encrypted at rest.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Stream, error) {
	if p.UserID == "" || p.Title == "" {
		return nil, fmt.Errorf("userId and title are required")
	}

	id := uuid.New().String()
	live, err := s.platform.CreateLiveStream(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("provision live stream: %w", err)
	}

	encKey, iv, err := s.sealer.SealString(live.StreamKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt stream key: %w", err)
	}

	st := &model.Stream{
		ID:                 id,
		HostID:             p.UserID,
		Title:              p.Title,
		Description:        p.Description,
		Tags:               p.Tags,
		Category:           p.Category,
		ThumbnailStorageID: p.ThumbnailStorageID,
		Bolt12Offer:        p.Bolt12Offer,
		MuxStreamID:        live.ID,
		MuxPlaybackID:      live.PlaybackID,
		EncryptedStreamKey: encKey,
		StreamKeyIV:        iv,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.store.CreateStream(ctx, st); err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return st, nil
}

// StreamKey is the host-only ingest credential bundle.
type StreamKey struct {
	StreamKey   string
	MuxStreamID string
	RTMPURL     string
}

// GetKey decrypts the ingest key for the stream host. Non-hosts get
// ErrNotHost.
func (s *Service) GetKey(ctx context.Context, streamID, userID string) (*StreamKey, error) {
	st, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if st.HostID != userID {
		return nil, ErrNotHost
	}

	key, err := s.sealer.OpenString(st.EncryptedStreamKey, st.StreamKeyIV)
	if err != nil {
		return nil, fmt.Errorf("decrypt stream key: %w", err)
	}

	return &StreamKey{
		StreamKey:   key,
		MuxStreamID: st.MuxStreamID,
		RTMPURL:     "rtmps://global-live.mux.com:443/app",
	}, nil
}

// Start marks a stream live. A second call on an already-live stream is a
// no-op so webhook and API paths may race harmlessly.
func (s *Service) Start(ctx context.Context, streamID string) error {
	st, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		return err
	}
	if st.IsLive {
		return nil
	}

	now := time.Now().UTC()
	patch := map[string]any{"is_live": true}
	if st.StartedAt == nil {
		patch["started_at"] = now
	}
	// A reconnect after an idle event reopens the stream.
	if st.EndedAt != nil {
		patch["ended_at"] = nil
	}
	if err := s.store.PatchStream(ctx, streamID, patch); err != nil {
		return fmt.Errorf("mark stream live: %w", err)
	}
	return nil
}

// End marks a stream ended and returns its final stats snapshot. The video
// platform teardown is best-effort: a deletion failure never blocks ending
// the stream. A second call returns the same terminal state.
func (s *Service) End(ctx context.Context, streamID string) (*model.StreamStats, error) {
	st, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}

	stats := &model.StreamStats{
		Viewers:       st.Viewers,
		TotalViews:    st.TotalViews,
		TotalEarnings: st.TotalEarnings,
		TotalGifts:    st.TotalGifts,
	}

	if !st.IsLive && st.EndedAt != nil {
		return stats, nil
	}

	if st.MuxStreamID != "" {
		if err := s.platform.DeleteLiveStream(ctx, st.MuxStreamID); err != nil {
			s.logger.Warn(ctx, "video platform teardown failed", map[string]any{
				"stream_id": streamID,
				"error":     err.Error(),
			})
		}
	}

	patch := map[string]any{"is_live": false}
	if st.EndedAt == nil {
		patch["ended_at"] = time.Now().UTC()
	}
	if err := s.store.PatchStream(ctx, streamID, patch); err != nil {
		return nil, fmt.Errorf("mark stream ended: %w", err)
	}
	return stats, nil
}

// ResetViewers zeroes the live viewer counter.
func (s *Service) ResetViewers(ctx context.Context, streamID string) error {
	if _, err := s.store.GetStream(ctx, streamID); err != nil {
		return err
	}
	if err := s.store.PatchStream(ctx, streamID, map[string]any{"viewers": int64(0)}); err != nil {
		return fmt.Errorf("reset viewers: %w", err)
	}
	return nil
}

// HandleWebhookEvent applies a video platform lifecycle event. Unknown
// event types are ignored; an unmatched external stream ID is an error so
// the platform retries the delivery.
func (s *Service) HandleWebhookEvent(ctx context.Context, eventType, muxStreamID string) error {
	switch eventType {
	case "video.live_stream.active", "stream.active":
	case "video.live_stream.idle", "stream.idle":
	default:
		s.logger.Info(ctx, "ignoring webhook event", map[string]any{"type": eventType})
		return nil
	}

	if muxStreamID == "" {
		return ErrMissingStreamID
	}

	st, err := s.store.GetStreamByMuxID(ctx, muxStreamID)
	if err != nil {
		return fmt.Errorf("stream for external id %s: %w", muxStreamID, err)
	}

	switch eventType {
	case "video.live_stream.active", "stream.active":
		return s.Start(ctx, st.ID)
	default:
		return s.markIdle(ctx, st)
	}
}

// markIdle clears the live flag after the broadcaster disconnects. The ingest
// endpoint stays provisioned so a reconnect inside the platform's reconnect
// window still works; teardown only happens on an explicit End.
func (s *Service) markIdle(ctx context.Context, st *model.Stream) error {
	if !st.IsLive && st.EndedAt != nil {
		return nil
	}
	patch := map[string]any{"is_live": false}
	if st.EndedAt == nil {
		patch["ended_at"] = time.Now().UTC()
	}
	if err := s.store.PatchStream(ctx, st.ID, patch); err != nil {
		return fmt.Errorf("mark stream idle: %w", err)
	}
	return nil
}
