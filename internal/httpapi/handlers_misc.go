package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/opnode-live/opnode/internal/apierr"
	"github.com/opnode-live/opnode/internal/chat"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,24}$`)

func (s *Server) handleCheckUsername(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if len(username) < 3 {
		apierr.Write(w, apierr.BadRequest("username must be at least 3 characters"))
		return
	}
	if !usernameRe.MatchString(username) {
		apierr.WriteJSON(w, http.StatusOK, map[string]any{
			"available": false,
			"username":  username,
		})
		return
	}

	_, err := s.store.GetUserProfileByUsername(r.Context(), username)
	switch {
	case err == nil:
		apierr.WriteJSON(w, http.StatusOK, map[string]any{"available": false, "username": username})
	case errors.Is(err, store.ErrNotFound):
		apierr.WriteJSON(w, http.StatusOK, map[string]any{"available": true, "username": username})
	default:
		apierr.Write(w, apierr.Internal("username check failed"))
	}
}

func (s *Server) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"userId"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
		Bio         string `json:"bio"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.UserID == "" || !usernameRe.MatchString(req.Username) {
		apierr.Write(w, apierr.BadRequest("userId and a valid username are required"))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	profile := &model.UserProfile{
		ID:          req.UserID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUserProfile(r.Context(), profile); err != nil {
		if errors.Is(err, store.ErrConflict) {
			apierr.Write(w, &apierr.Error{Status: http.StatusConflict, Message: "username is taken"})
			return
		}
		apierr.Write(w, apierr.Internal("profile creation failed"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profile})
}

// handleWalletSetup stores a user's wallet profile with the seed sealed at
// rest. The plaintext seed never persists.
func (s *Server) handleWalletSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"userId"`
		WalletID     string `json:"walletId"`
		ReceivingKey string `json:"receivingKey"`
		Mnemonic     string `json:"mnemonic"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.UserID == "" || req.Mnemonic == "" {
		apierr.Write(w, apierr.BadRequest("userId and mnemonic are required"))
		return
	}

	sealed, nonce, err := s.sealer.SealString(req.Mnemonic)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to protect wallet seed"))
		return
	}

	now := time.Now().UTC()
	profile := &model.WalletProfile{
		UserID:        req.UserID,
		WalletID:      req.WalletID,
		Network:       s.cfg.WalletNetwork,
		ReceivingKey:  req.ReceivingKey,
		EncryptedSeed: sealed,
		SeedIV:        nonce,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.UpsertWalletProfile(r.Context(), profile); err != nil {
		apierr.Write(w, apierr.Internal("failed to store wallet profile"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if sessionUser := SessionUser(r.Context()); sessionUser != "" {
		userID = sessionUser
	}
	if userID == "" {
		apierr.Write(w, apierr.BadRequest("userId is required"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.payments.History(r.Context(), userID, limit)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load payment history"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"payments": entries})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if sessionUser := SessionUser(r.Context()); sessionUser != "" {
		userID = sessionUser
	}
	if userID == "" {
		apierr.Write(w, apierr.BadRequest("userId is required"))
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	notifications, err := s.store.ListNotifications(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load notifications"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	token, err := s.sessions.Issue(req.UserID)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to issue session"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"userId": req.UserID,
		"token":  token,
	})
}

func (s *Server) handleStorageURL(w http.ResponseWriter, r *http.Request) {
	storageID := r.URL.Query().Get("storageId")
	if storageID == "" {
		apierr.Write(w, apierr.BadRequest("storageId is required"))
		return
	}

	url := fmt.Sprintf("%s/storage/v1/object/public/media/%s", s.cfg.StoreURL, storageID)
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID string `json:"streamId"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
		Message  string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if userID := SessionUser(r.Context()); userID != "" {
		req.UserID = userID
	}

	msg, err := s.chat.Post(r.Context(), chat.PostParams{
		StreamID: req.StreamID,
		UserID:   req.UserID,
		Username: req.Username,
		Avatar:   req.Avatar,
		Message:  req.Message,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.Write(w, apierr.NotFound("Stream not found"))
			return
		}
		apierr.Write(w, apierr.BadRequest(err.Error()))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamId"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := s.chat.List(r.Context(), streamID, limit)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load chat"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
