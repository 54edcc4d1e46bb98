package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnode-live/opnode/internal/chat"
	"github.com/opnode-live/opnode/internal/config"
	"github.com/opnode-live/opnode/internal/gift"
	"github.com/opnode-live/opnode/internal/lightning"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/payments"
	"github.com/opnode-live/opnode/internal/store"
	"github.com/opnode-live/opnode/internal/stream"
	"github.com/opnode-live/opnode/internal/video"
	"github.com/opnode-live/opnode/internal/walletcrypto"
)

type stubPlatform struct{}

func (stubPlatform) CreateLiveStream(ctx context.Context, passthrough string) (*video.LiveStream, error) {
	return &video.LiveStream{ID: "ls_abc", StreamKey: "sk_secret", PlaybackID: "pb_xyz"}, nil
}
func (stubPlatform) DeleteLiveStream(ctx context.Context, id string) error { return nil }
func (stubPlatform) ViewerCount(ctx context.Context, playbackID string) (int64, error) {
	return 11, nil
}

// stubSDK settles every payment immediately.
type stubSDK struct{}

func (stubSDK) Connect(ctx context.Context) error    { return nil }
func (stubSDK) Disconnect(ctx context.Context) error { return nil }
func (stubSDK) NodeInfo(ctx context.Context) (*lightning.NodeInfo, error) {
	return &lightning.NodeInfo{Pubkey: "02abc", Network: "regtest"}, nil
}
func (stubSDK) ParseInvoice(ctx context.Context, paymentRequest string) (*lightning.Invoice, error) {
	return &lightning.Invoice{PaymentRequest: paymentRequest, PaymentHash: "hash-1", AmountSats: 1000}, nil
}
func (stubSDK) PrepareSend(ctx context.Context, invoice *lightning.Invoice) (*lightning.PreparedPayment, error) {
	return &lightning.PreparedPayment{Invoice: invoice, FeeSats: 1}, nil
}
func (stubSDK) SendPayment(ctx context.Context, prepared *lightning.PreparedPayment) (*lightning.SendResult, error) {
	return &lightning.SendResult{PaymentHash: prepared.Invoice.PaymentHash, State: lightning.PaymentStateSucceeded}, nil
}
func (stubSDK) PaymentStatus(ctx context.Context, paymentHash string) (lightning.PaymentState, error) {
	return lightning.PaymentStateSucceeded, nil
}

// stubInvoices replaces the relay wait with an immediate payment request.
type stubInvoices struct{}

func (stubInvoices) RequestInvoice(ctx context.Context, streamID string, amountSats int64) (string, error) {
	return "lnbc10u1pstub", nil
}

func testServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	cfg := &config.Config{
		ListenAddr:       ":0",
		PublicAppURL:     "http://localhost:3000",
		StoreURL:         "https://store.example.com",
		StoreServiceKey:  "service-key",
		MuxWebhookSecret: "whsec_test",
		WalletNetwork:    "regtest",
		SessionSecret:    "test-session-secret",
		Tuning:           config.DefaultTuning(),
	}

	st := store.NewMemoryStore()
	logger := logging.NewNop()
	sealer, err := walletcrypto.NewSealer("test-secret")
	require.NoError(t, err)

	chatSvc := chat.NewService(st, logger)
	paySvc := payments.NewService(st, logger)
	streamSvc := stream.NewService(st, stubPlatform{}, sealer, logger)
	orchestrator := gift.NewOrchestrator(st, stubSDK{}, stubInvoices{}, chatSvc, paySvc, nil, logger)
	relay := gift.NewRelay(st, nil, time.Second, logger)

	srv := NewServer(Deps{
		Config:   cfg,
		Store:    st,
		Relay:    relay,
		Gifts:    orchestrator,
		Streams:  streamSvc,
		Chat:     chatSvc,
		Payments: paySvc,
		Viewers:  video.NewViewerCache(stubPlatform{}, nil, time.Second),
		Sealer:   sealer,
		Logger:   logger,
	})
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedStreamWithWallet(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateStream(ctx, &model.Stream{
		ID: "stream-1", HostID: "host-1", Title: "t", IsLive: true, MuxPlaybackID: "pb_xyz",
	}))
	require.NoError(t, st.CreateUserProfile(ctx, &model.UserProfile{ID: "host-1", Username: "host"}))
	require.NoError(t, st.UpsertWalletProfile(ctx, &model.WalletProfile{
		UserID: "host-1", ReceivingKey: "02receiving",
	}))
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestGenerateInvoice(t *testing.T) {
	srv, st := testServer(t)
	seedStreamWithWallet(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/generate-invoice", map[string]any{
		"streamId": "stream-1", "amountSats": 1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "host-1", body["hostUserId"])
}

func TestGenerateInvoice_Errors(t *testing.T) {
	srv, st := testServer(t)
	seedStreamWithWallet(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/generate-invoice", map[string]any{"streamId": "stream-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/generate-invoice", map[string]any{
		"streamId": "missing", "amountSats": 1000,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Stream not found", decodeBody(t, rec)["error"])
}

func TestGenerateInvoice_NoWallet(t *testing.T) {
	srv, st := testServer(t)
	require.NoError(t, st.CreateStream(context.Background(), &model.Stream{
		ID: "stream-1", HostID: "host-1", IsLive: true,
	}))

	rec := doJSON(t, srv, http.MethodPost, "/api/generate-invoice", map[string]any{
		"streamId": "stream-1", "amountSats": 1000,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Streamer does not have a wallet set up", decodeBody(t, rec)["error"])
}

func TestGenerateBolt11_NotImplemented(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/stream/generate-bolt11", map[string]any{})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestGiftSend_EndToEnd(t *testing.T) {
	srv, st := testServer(t)
	seedStreamWithWallet(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/gift/send", map[string]any{
		"streamId":   "stream-1",
		"senderId":   "viewer-1",
		"senderName": "viewer",
		"amountSats": 1000,
		"type":       "zap",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])

	giftBody := body["gift"].(map[string]any)
	assert.Equal(t, "completed", giftBody["status"])
	assert.Equal(t, "hash-1", giftBody["paymentHash"])

	s, err := st.GetStream(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s.TotalEarnings)
	assert.Equal(t, int64(1), s.TotalGifts)
}

func TestGiftSend_Validation(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/gift/send", map[string]any{
		"streamId": "stream-1", "senderId": "viewer-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamLifecycle(t *testing.T) {
	srv, st := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/stream/create", map[string]any{
		"userId": "host-1", "title": "my stream",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	streamID := body["streamId"].(string)
	assert.Equal(t, "ls_abc", body["muxStreamId"])
	assert.Equal(t, "pb_xyz", body["muxPlaybackId"])

	// Only the host may read the ingest key.
	rec = doJSON(t, srv, http.MethodPost, "/api/stream/get-key", map[string]any{
		"streamId": streamID, "userId": "intruder",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/stream/get-key", map[string]any{
		"streamId": streamID, "userId": "host-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sk_secret", decodeBody(t, rec)["streamKey"])

	rec = doJSON(t, srv, http.MethodPost, "/api/stream/start", map[string]any{"streamId": streamID})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, st.IncrementStreamCounters(context.Background(), streamID, 500, 1))

	rec = doJSON(t, srv, http.MethodPost, "/api/stream/end", map[string]any{"streamId": streamID})
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)["finalStats"].(map[string]any)
	assert.Equal(t, float64(500), stats["totalEarnings"])
	assert.Equal(t, float64(1), stats["totalGifts"])
}

func TestStreamOps_UnknownStream(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/api/stream/start", "/api/stream/end", "/api/stream/reset-viewers"} {
		rec := doJSON(t, srv, http.MethodPost, path, map[string]any{"streamId": "missing"})
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestViewers(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/mux/viewers?playbackId=pb_xyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(11), decodeBody(t, rec)["viewers"])

	rec = doJSON(t, srv, http.MethodGet, "/api/mux/viewers", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSendAndList(t *testing.T) {
	srv, st := testServer(t)
	seedStreamWithWallet(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/send", map[string]any{
		"streamId": "stream-1", "userId": "viewer-1", "username": "viewer", "message": "gm",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/chat/stream-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody(t, rec)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "gm", msgs[0].(map[string]any)["message"])
}

func TestCheckUsername(t *testing.T) {
	srv, st := testServer(t)
	require.NoError(t, st.CreateUserProfile(context.Background(), &model.UserProfile{
		ID: "u1", Username: "taken",
	}))

	rec := doJSON(t, srv, http.MethodGet, "/api/check-username?username=ab", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/check-username?username=taken", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["available"])

	rec = doJSON(t, srv, http.MethodGet, "/api/check-username?username=fresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["available"])
}

func TestProfileCreate_Conflict(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/profile/create", map[string]any{
		"userId": "u1", "username": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/profile/create", map[string]any{
		"userId": "u2", "username": "alice",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWalletSetup_SealsSeed(t *testing.T) {
	srv, st := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/wallet/setup", map[string]any{
		"userId":       "u1",
		"receivingKey": "02receiving",
		"mnemonic":     "abandon abandon about",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	wp, err := st.GetWalletProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEqual(t, "abandon abandon about", wp.EncryptedSeed, "seed must not persist in the clear")
	assert.NotEmpty(t, wp.SeedIV)
	assert.Equal(t, "02receiving", wp.ReceivingKey)
}

func TestStorageURL(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/storage-url?storageId=thumb-1.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"https://store.example.com/storage/v1/object/public/media/thumb-1.png",
		decodeBody(t, rec)["url"])
}

func TestMuxWebhook_RejectsBadSignature(t *testing.T) {
	srv, _ := testServer(t)

	body := []byte(`{"type":"video.live_stream.active","data":{"id":"ls_abc"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mux", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing signature must be rejected")

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/mux", bytes.NewReader(body))
	req.Header.Set(video.SignatureHeader, video.Sign([]byte("other body"), "whsec_test", time.Now()))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "tampered body must be rejected")
}

func TestMuxWebhook_AppliesEvent(t *testing.T) {
	srv, st := testServer(t)
	require.NoError(t, st.CreateStream(context.Background(), &model.Stream{
		ID: "stream-1", HostID: "host-1", MuxStreamID: "ls_abc",
	}))

	body := []byte(`{"type":"video.live_stream.active","data":{"id":"ls_abc"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mux", bytes.NewReader(body))
	req.Header.Set(video.SignatureHeader, video.Sign(body, "whsec_test", time.Now()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s, err := st.GetStream(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.True(t, s.IsLive)
}

func TestMuxWebhook_UnmatchedStreamErrors(t *testing.T) {
	srv, _ := testServer(t)

	body := []byte(`{"type":"video.live_stream.active","data":{"id":"ls_unknown"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mux", bytes.NewReader(body))
	req.Header.Set(video.SignatureHeader, video.Sign(body, "whsec_test", time.Now()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "unmatched stream must error so the delivery retries")
}

func TestMuxWebhook_UnknownEventTypeIgnored(t *testing.T) {
	srv, _ := testServer(t)

	// Events the backend does not handle arrive without a data.id and must
	// still be acknowledged so the platform stops redelivering them.
	body := []byte(`{"type":"video.asset.created","data":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mux", bytes.NewReader(body))
	req.Header.Set(video.SignatureHeader, video.Sign(body, "whsec_test", time.Now()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMuxWebhook_LifecycleEventMissingID(t *testing.T) {
	srv, _ := testServer(t)

	body := []byte(`{"type":"video.live_stream.active","data":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mux", bytes.NewReader(body))
	req.Header.Set(video.SignatureHeader, video.Sign(body, "whsec_test", time.Now()))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	srv, st := testServer(t)
	require.NoError(t, st.CreateUserProfile(context.Background(), &model.UserProfile{
		ID: "host-1", Username: "host",
	}))

	rec := doJSON(t, srv, http.MethodPost, "/api/webhooks/payment", map[string]any{
		"paymentHash": "hash-1", "amountSats": 2000, "recipientUserId": "host-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Redelivery is deduplicated.
	rec = doJSON(t, srv, http.MethodPost, "/api/webhooks/payment", map[string]any{
		"paymentHash": "hash-1", "amountSats": 2000, "recipientUserId": "host-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := st.ListPaymentEntries(context.Background(), "host-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	rec = doJSON(t, srv, http.MethodPost, "/api/webhooks/payment", map[string]any{
		"paymentHash": "", "amountSats": 2000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFulfillInvoiceRequest(t *testing.T) {
	srv, st := testServer(t)
	require.NoError(t, st.CreateInvoiceRequest(context.Background(), &model.InvoiceRequest{
		ID: "req-1", StreamID: "stream-1", HostID: "host-1", Status: model.InvoicePending,
	}))

	// Non-host rejected.
	rec := doJSON(t, srv, http.MethodPost, "/api/invoice-requests/req-1/fulfill", map[string]any{
		"userId": "intruder", "paymentRequest": "lnbc...",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/invoice-requests/req-1/fulfill", map[string]any{
		"userId": "host-1", "paymentRequest": "lnbc...",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A second fulfillment finds the request no longer pending.
	rec = doJSON(t, srv, http.MethodPost, "/api/invoice-requests/req-1/fulfill", map[string]any{
		"userId": "host-1", "paymentRequest": "lnbc-other",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionIssueAndUse(t *testing.T) {
	srv, st := testServer(t)
	seedStreamWithWallet(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/session", map[string]any{"userId": "viewer-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeBody(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	// A session token overrides the body's sender identity.
	payload, err := json.Marshal(map[string]any{
		"streamId": "stream-1", "userId": "spoofed", "username": "viewer", "message": "hello",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())

	msg := decodeBody(t, rec2)["message"].(map[string]any)
	assert.Equal(t, "viewer-1", msg["user_id"])
}

func TestTraceHeaderPropagated(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}
