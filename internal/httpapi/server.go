package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opnode-live/opnode/internal/apierr"
	"github.com/opnode-live/opnode/internal/chat"
	"github.com/opnode-live/opnode/internal/config"
	"github.com/opnode-live/opnode/internal/gift"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/payments"
	"github.com/opnode-live/opnode/internal/store"
	"github.com/opnode-live/opnode/internal/stream"
	"github.com/opnode-live/opnode/internal/video"
	"github.com/opnode-live/opnode/internal/walletcrypto"
)

// Server wires the OPNODE HTTP API.
type Server struct {
	cfg      *config.Config
	store    store.Store
	relay    *gift.Relay
	gifts    *gift.Orchestrator
	streams  *stream.Service
	chat     *chat.Service
	payments *payments.Service
	viewers  *video.ViewerCache
	sealer   *walletcrypto.Sealer
	sessions *Sessions
	logger   *logging.Logger
	router   *mux.Router
}

// Deps are the collaborators the server needs.
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Relay    *gift.Relay
	Gifts    *gift.Orchestrator
	Streams  *stream.Service
	Chat     *chat.Service
	Payments *payments.Service
	Viewers  *video.ViewerCache
	Sealer   *walletcrypto.Sealer
	Logger   *logging.Logger
	Registry *prometheus.Registry
}

// NewServer creates the HTTP server with its full middleware chain.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		store:    d.Store,
		relay:    d.Relay,
		gifts:    d.Gifts,
		streams:  d.Streams,
		chat:     d.Chat,
		payments: d.Payments,
		viewers:  d.Viewers,
		sealer:   d.Sealer,
		sessions: NewSessions(d.Config.SessionSecret, 24*time.Hour),
		logger:   d.Logger,
	}

	registry := d.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := mux.NewRouter()
	r.Use(TracingMiddleware(s.logger))
	r.Use(NewHTTPMetrics(registry).Middleware())
	r.Use(NewRateLimiter(d.Config.Tuning.RateLimitPerSecond, d.Config.Tuning.RateLimitBurst, s.logger).Middleware())
	r.Use(CORSMiddleware([]string{d.Config.PublicAppURL}))
	r.Use(mux.MiddlewareFunc(s.sessions.Middleware))

	// Gift flow.
	r.HandleFunc("/api/generate-invoice", s.handleGenerateInvoice).Methods(http.MethodPost)
	r.HandleFunc("/api/stream/generate-bolt11", s.handleGenerateBolt11).Methods(http.MethodPost)
	r.HandleFunc("/api/gift/send", s.handleGiftSend).Methods(http.MethodPost)
	r.HandleFunc("/api/invoice-requests/{id}/fulfill", s.handleFulfillInvoice).Methods(http.MethodPost)

	// Stream lifecycle.
	r.HandleFunc("/api/stream/create", s.handleStreamCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/stream/get-key", s.handleStreamGetKey).Methods(http.MethodPost)
	r.HandleFunc("/api/stream/start", s.handleStreamStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stream/end", s.handleStreamEnd).Methods(http.MethodPost)
	r.HandleFunc("/api/stream/reset-viewers", s.handleStreamResetViewers).Methods(http.MethodPost)
	r.HandleFunc("/api/streams", s.handleStreamList).Methods(http.MethodGet)
	r.HandleFunc("/api/mux/viewers", s.handleViewers).Methods(http.MethodGet)

	// Chat and notifications.
	r.HandleFunc("/api/chat/send", s.handleChatSend).Methods(http.MethodPost)
	r.HandleFunc("/api/chat/{streamId}", s.handleChatList).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications", s.handleNotifications).Methods(http.MethodGet)

	// Profiles, wallets, payments.
	r.HandleFunc("/api/check-username", s.handleCheckUsername).Methods(http.MethodGet)
	r.HandleFunc("/api/profile/create", s.handleProfileCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/wallet/setup", s.handleWalletSetup).Methods(http.MethodPost)
	r.HandleFunc("/api/payments/history", s.handlePaymentHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/session", s.handleSessionCreate).Methods(http.MethodPost)

	// Misc.
	r.HandleFunc("/api/storage-url", s.handleStorageURL).Methods(http.MethodGet)

	// Webhooks.
	r.HandleFunc("/api/webhooks/mux", s.handleMuxWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/webhooks/payment", s.handlePaymentWebhook).Methods(http.MethodPost)

	// Operational.
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router = r
	return s
}

// Router returns the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "opnode",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
