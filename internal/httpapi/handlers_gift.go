package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/opnode-live/opnode/internal/apierr"
	"github.com/opnode-live/opnode/internal/gift"
	"github.com/opnode-live/opnode/internal/store"
)

// handleGenerateInvoice confirms the target stream and its host's wallet
// profile exist before any payment flow begins. It does not mint the
// invoice itself; that happens in the host's connected wallet session.
func (s *Server) handleGenerateInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID   string `json:"streamId"`
		AmountSats int64  `json:"amountSats"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if req.StreamID == "" || req.AmountSats <= 0 {
		apierr.Write(w, apierr.BadRequest("streamId and amountSats are required"))
		return
	}

	hostID, err := s.relay.CheckEligibility(r.Context(), req.StreamID, req.AmountSats)
	if err != nil {
		switch {
		case errors.Is(err, gift.ErrNoReceivingKey):
			apierr.Write(w, apierr.NotFound("Streamer does not have a wallet set up"))
		case errors.Is(err, store.ErrNotFound):
			apierr.Write(w, apierr.NotFound("Stream not found"))
		default:
			apierr.Write(w, apierr.Internal("eligibility check failed"))
		}
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"hostUserId": hostID,
		"message":    "Streamer wallet verified; invoice will be minted by the host session",
	})
}

// handleGenerateBolt11 is intentionally unimplemented: minting a BOLT11
// server-side would require custodial wallet management or a different
// payment flow.
func (s *Server) handleGenerateBolt11(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, apierr.NotImplemented(
		"server-side BOLT11 generation is not implemented: invoices are minted by the "+
			"host's connected wallet session; a custodial server-side wallet would be "+
			"required to mint them here"))
}

func (s *Server) handleGiftSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StreamID     string `json:"streamId"`
		SenderID     string `json:"senderId"`
		SenderName   string `json:"senderName"`
		SenderAvatar string `json:"senderAvatar"`
		AmountSats   int64  `json:"amountSats"`
		Type         string `json:"type"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if userID := SessionUser(r.Context()); userID != "" {
		req.SenderID = userID
	}
	if req.StreamID == "" || req.SenderID == "" || req.AmountSats <= 0 {
		apierr.Write(w, apierr.BadRequest("streamId, senderId and amountSats are required"))
		return
	}

	result, err := s.gifts.Send(r.Context(), gift.SendParams{
		StreamID:     req.StreamID,
		SenderID:     req.SenderID,
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		AmountSats:   req.AmountSats,
		Type:         req.Type,
	})
	if err != nil {
		apierr.Write(w, giftError(err))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"gift":    result,
	})
}

// giftError maps the orchestrator's failure taxonomy to API errors with
// user-facing messages.
func giftError(err error) error {
	switch {
	case errors.Is(err, gift.ErrWalletNotConnected):
		return apierr.BadRequest("Wallet is not connected")
	case errors.Is(err, gift.ErrSDKNotReady):
		return apierr.Internal("Wallet service is not ready, try again shortly")
	case errors.Is(err, gift.ErrNoReceivingKey):
		return apierr.NotFound("Streamer does not have a wallet set up")
	case errors.Is(err, gift.ErrInvoiceRequest):
		return apierr.Internal("Could not obtain an invoice from the streamer's wallet")
	case errors.Is(err, gift.ErrParseRejected):
		return apierr.BadRequest("Unsupported payment request")
	case errors.Is(err, gift.ErrInsufficientFunds):
		return apierr.BadRequest("Insufficient funds to send this gift")
	case errors.Is(err, gift.ErrPaymentFailed):
		return apierr.Internal("Payment failed, you have not been charged")
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound("Stream not found")
	}
	return apierr.Internal("Gift could not be sent")
}

// handleFulfillInvoice lets the host's session attach a freshly minted
// payment request to a pending invoice request.
func (s *Server) handleFulfillInvoice(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	var req struct {
		UserID         string `json:"userId"`
		PaymentRequest string `json:"paymentRequest"`
	}
	if err := decode(r, &req); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}
	if userID := SessionUser(r.Context()); userID != "" {
		req.UserID = userID
	}
	if req.PaymentRequest == "" || req.UserID == "" {
		apierr.Write(w, apierr.BadRequest("userId and paymentRequest are required"))
		return
	}

	invReq, err := s.store.GetInvoiceRequest(r.Context(), requestID)
	if err != nil {
		apierr.Write(w, apierr.NotFound("Invoice request not found"))
		return
	}
	if invReq.HostID != req.UserID {
		apierr.Write(w, apierr.Forbidden("Only the stream host can fulfill this request"))
		return
	}

	if err := s.store.FulfillInvoiceRequest(r.Context(), requestID, req.PaymentRequest); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.Write(w, apierr.NotFound("Invoice request is no longer pending"))
			return
		}
		apierr.Write(w, apierr.Internal("Could not fulfill invoice request"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}
