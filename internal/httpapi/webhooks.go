package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opnode-live/opnode/internal/apierr"
	"github.com/opnode-live/opnode/internal/payments"
	"github.com/opnode-live/opnode/internal/stream"
	"github.com/opnode-live/opnode/internal/video"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// handleMuxWebhook applies stream lifecycle events from the video platform.
// The signature is verified against the raw body before any parsing; an
// unverifiable delivery is rejected with 401 so the platform retries once
// the secret is fixed.
func (s *Server) handleMuxWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		apierr.Write(w, apierr.BadRequest("failed to read body"))
		return
	}
	defer r.Body.Close()

	if s.cfg.InsecureWebhooks {
		s.logger.LogSecurityEvent(r.Context(), "webhook_signature_skipped", map[string]any{
			"path": r.URL.Path,
		})
	} else {
		header := r.Header.Get(video.SignatureHeader)
		if err := video.VerifySignature(header, body, s.cfg.MuxWebhookSecret, s.cfg.Tuning.WebhookTolerance, time.Now()); err != nil {
			s.logger.LogSecurityEvent(r.Context(), "webhook_signature_rejected", map[string]any{
				"error": err.Error(),
			})
			apierr.Write(w, apierr.Unauthorized("invalid webhook signature"))
			return
		}
	}

	eventType := gjson.GetBytes(body, "type").String()
	muxStreamID := gjson.GetBytes(body, "data.id").String()

	// The service decides what the event means: unknown types are ignored,
	// and only lifecycle events require a stream ID.
	if err := s.streams.HandleWebhookEvent(r.Context(), eventType, muxStreamID); err != nil {
		if errors.Is(err, stream.ErrMissingStreamID) {
			apierr.Write(w, apierr.BadRequest("missing stream id in webhook payload"))
			return
		}
		s.logger.Error(r.Context(), "webhook event failed", err, map[string]any{
			"type":          eventType,
			"mux_stream_id": muxStreamID,
		})
		apierr.Write(w, apierr.Internal("failed to apply webhook event"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

// handlePaymentWebhook records an inbound Lightning payment. Deliveries are
// deduplicated on the payment hash, so the platform may retry freely.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var p payments.ReceivedPayment
	if err := decode(r, &p); err != nil {
		apierr.Write(w, apierr.BadRequest("invalid request body"))
		return
	}

	if err := s.payments.ProcessReceived(r.Context(), p); err != nil {
		if p.PaymentHash == "" || p.RecipientUserID == "" || p.AmountSats <= 0 {
			apierr.Write(w, apierr.BadRequest(err.Error()))
			return
		}
		s.logger.Error(r.Context(), "payment webhook failed", err, nil)
		apierr.Write(w, apierr.Internal("failed to process payment"))
		return
	}

	apierr.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}
