package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/opnode-live/opnode/internal/apierr"
	"github.com/opnode-live/opnode/internal/store"
	"github.com/opnode-live/opnode/internal/stream"
)

func (s *Server) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID             string   `json:"userId"`
		Title              string   `json:"title"`
		Description        string   `json:"description"`
		Tags               []string `json:"tags"`
		Category           string   `json:"category"`
		ThumbnailStorageID string   `json:"thumbnailStorageId"`
		Bolt12Offer        string   `json:"bolt12Offer"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.UserID == "" || req.Title == "" {
		apierr.Write(w, apierr.BadRequest("userId and title are required"))
		return
	}

	st, err := s.streams.Create(r.Context(), stream.CreateParams{
		UserID:             req.UserID,
		Title:              req.Title,
		Description:        req.Description,
		Tags:               req.Tags,
		Category:           req.Category,
		ThumbnailStorageID: req.ThumbnailStorageID,
		Bolt12Offer:        req.Bolt12Offer,
	})
	if err != nil {
		s.logger.Error(r.Context(), "stream create failed", err, nil)
		apierr.Write(w, apierr.Internal("Failed to create stream"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"streamId":      st.ID,
		"muxStreamId":   st.MuxStreamID,
		"muxPlaybackId": st.MuxPlaybackID,
	})
}

func (s *Server) handleStreamGetKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID string `json:"streamId"`
		UserID   string `json:"userId"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.StreamID == "" || req.UserID == "" {
		apierr.Write(w, apierr.BadRequest("streamId and userId are required"))
		return
	}

	key, err := s.streams.GetKey(r.Context(), req.StreamID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrNotHost):
			apierr.Write(w, apierr.Forbidden("Only the stream host can access the stream key"))
		case errors.Is(err, store.ErrNotFound):
			apierr.Write(w, apierr.NotFound("Stream not found"))
		default:
			apierr.Write(w, apierr.Internal("Failed to retrieve stream key"))
		}
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"streamKey":   key.StreamKey,
		"muxStreamId": key.MuxStreamID,
		"rtmpUrl":     key.RTMPURL,
	})
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamIDFromBody(w, r)
	if !ok {
		return
	}

	if err := s.streams.Start(r.Context(), streamID); err != nil {
		s.writeStreamError(w, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStreamEnd(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamIDFromBody(w, r)
	if !ok {
		return
	}

	stats, err := s.streams.End(r.Context(), streamID)
	if err != nil {
		s.writeStreamError(w, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"finalStats": stats,
	})
}

func (s *Server) handleStreamResetViewers(w http.ResponseWriter, r *http.Request) {
	streamID, ok := s.streamIDFromBody(w, r)
	if !ok {
		return
	}

	if err := s.streams.ResetViewers(r.Context(), streamID); err != nil {
		s.writeStreamError(w, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStreamList(w http.ResponseWriter, r *http.Request) {
	onlyLive := r.URL.Query().Get("live") == "true"
	category := r.URL.Query().Get("category")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	streams, err := s.store.ListStreams(r.Context(), onlyLive, category, limit)
	if err != nil {
		apierr.Write(w, apierr.Internal("Failed to list streams"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

func (s *Server) handleViewers(w http.ResponseWriter, r *http.Request) {
	playbackID := r.URL.Query().Get("playbackId")
	if playbackID == "" {
		apierr.Write(w, apierr.BadRequest("playbackId is required"))
		return
	}

	viewers, err := s.viewers.ViewerCount(r.Context(), playbackID)
	if err != nil {
		s.logger.Error(r.Context(), "viewer count failed", err, map[string]any{"playback_id": playbackID})
		apierr.Write(w, apierr.Internal("Failed to fetch viewer count"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"viewers":   viewers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) streamIDFromBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		StreamID string `json:"streamId"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return "", false
	}
	if req.StreamID == "" {
		apierr.Write(w, apierr.BadRequest("streamId is required"))
		return "", false
	}
	return req.StreamID, true
}

func (s *Server) writeStreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		apierr.Write(w, apierr.NotFound("Stream not found"))
		return
	}
	apierr.Write(w, apierr.Internal("Stream operation failed"))
}
