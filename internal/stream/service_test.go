package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/store"
	"github.com/opnode-live/opnode/internal/video"
	"github.com/opnode-live/opnode/internal/walletcrypto"
)

// fakePlatform scripts the video platform.
type fakePlatform struct {
	createErr   error
	deleteErr   error
	deleteCalls int
	viewers     int64
}

func (f *fakePlatform) CreateLiveStream(ctx context.Context, passthrough string) (*video.LiveStream, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &video.LiveStream{
		ID:         "ls_abc",
		StreamKey:  "sk_secret",
		PlaybackID: "pb_xyz",
	}, nil
}

func (f *fakePlatform) DeleteLiveStream(ctx context.Context, id string) error {
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakePlatform) ViewerCount(ctx context.Context, playbackID string) (int64, error) {
	return f.viewers, nil
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *fakePlatform) {
	t.Helper()
	st := store.NewMemoryStore()
	platform := &fakePlatform{}
	sealer, err := walletcrypto.NewSealer("stream-test-secret")
	require.NoError(t, err)
	return NewService(st, platform, sealer, logging.NewNop()), st, platform
}

func TestCreate(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{
		UserID:   "host-1",
		Title:    "first stream",
		Category: "music",
	})
	require.NoError(t, err)
	assert.Equal(t, "ls_abc", created.MuxStreamID)
	assert.Equal(t, "pb_xyz", created.MuxPlaybackID)
	assert.NotEqual(t, "sk_secret", created.EncryptedStreamKey, "stream key must not persist in the clear")
	assert.NotEmpty(t, created.StreamKeyIV)
	assert.False(t, created.IsLive)

	got, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", got.HostID)
}

func TestCreate_Validates(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateParams{Title: "no host"})
	assert.Error(t, err)
	_, err = svc.Create(context.Background(), CreateParams{UserID: "host-1"})
	assert.Error(t, err)
}

func TestCreate_PlatformFailure(t *testing.T) {
	svc, st, platform := newTestService(t)
	platform.createErr = errors.New("mux unavailable")

	_, err := svc.Create(context.Background(), CreateParams{UserID: "host-1", Title: "t"})
	require.Error(t, err)

	streams, err := st.ListStreams(context.Background(), false, "", 0)
	require.NoError(t, err)
	assert.Empty(t, streams, "a failed provision leaves no stream behind")
}

func TestGetKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)

	key, err := svc.GetKey(ctx, created.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, "sk_secret", key.StreamKey)
	assert.Equal(t, "ls_abc", key.MuxStreamID)
	assert.Contains(t, key.RTMPURL, "rtmps://")
}

func TestGetKey_NonHostRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)

	_, err = svc.GetKey(ctx, created.ID, "someone-else")
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestGetKey_UnknownStream(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetKey(context.Background(), "missing", "host-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStart_Idempotent(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx, created.ID))
	first, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, first.IsLive)
	require.NotNil(t, first.StartedAt)

	// Webhook and API may both mark the stream live; the second call must
	// not move started_at.
	require.NoError(t, svc.Start(ctx, created.ID))
	second, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.StartedAt, second.StartedAt)
}

func TestEnd_ReturnsFinalStats(t *testing.T) {
	svc, st, platform := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, created.ID))
	require.NoError(t, st.IncrementStreamCounters(ctx, created.ID, 2500, 3))
	require.NoError(t, st.IncrementStreamViewers(ctx, created.ID, 7))

	stats, err := svc.End(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), stats.TotalEarnings)
	assert.Equal(t, int64(3), stats.TotalGifts)
	assert.Equal(t, int64(7), stats.TotalViews)
	assert.Equal(t, 1, platform.deleteCalls)

	ended, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsLive)
	assert.NotNil(t, ended.EndedAt)
}

func TestEnd_Idempotent(t *testing.T) {
	svc, _, platform := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, created.ID))

	first, err := svc.End(ctx, created.ID)
	require.NoError(t, err)
	second, err := svc.End(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, platform.deleteCalls, "teardown runs once")
}

func TestEnd_TeardownFailureDoesNotBlock(t *testing.T) {
	svc, st, platform := newTestService(t)
	platform.deleteErr = errors.New("mux 500")
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, created.ID))

	_, err = svc.End(ctx, created.ID)
	require.NoError(t, err)

	ended, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsLive)
}

func TestResetViewers(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)
	require.NoError(t, st.IncrementStreamViewers(ctx, created.ID, 12))

	require.NoError(t, svc.ResetViewers(ctx, created.ID))
	got, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Viewers)
	assert.Equal(t, int64(12), got.TotalViews, "total views survive a reset")
}

func TestHandleWebhookEvent(t *testing.T) {
	svc, st, platform := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)

	require.NoError(t, svc.HandleWebhookEvent(ctx, "video.live_stream.active", "ls_abc"))
	got, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLive)

	require.NoError(t, svc.HandleWebhookEvent(ctx, "video.live_stream.idle", "ls_abc"))
	got, err = st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLive)
	assert.NotNil(t, got.EndedAt)
	assert.Zero(t, platform.deleteCalls, "idle must keep the ingest endpoint for reconnects")
}

func TestHandleWebhookEvent_IdleThenReconnect(t *testing.T) {
	svc, st, platform := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateParams{UserID: "host-1", Title: "t"})
	require.NoError(t, err)

	// A transient broadcaster disconnect emits idle; the ingest endpoint
	// survives and a reconnect flips the stream live again.
	require.NoError(t, svc.HandleWebhookEvent(ctx, "video.live_stream.active", "ls_abc"))
	require.NoError(t, svc.HandleWebhookEvent(ctx, "video.live_stream.idle", "ls_abc"))
	require.NoError(t, svc.HandleWebhookEvent(ctx, "video.live_stream.active", "ls_abc"))

	got, err := st.GetStream(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLive)
	assert.Nil(t, got.EndedAt, "a reconnect reopens the stream")
	assert.Zero(t, platform.deleteCalls)

	// The explicit end is where teardown happens.
	_, err = svc.End(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, platform.deleteCalls)
}

func TestHandleWebhookEvent_UnknownTypeIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.HandleWebhookEvent(context.Background(), "video.asset.created", "ls_abc")
	assert.NoError(t, err)
}

func TestHandleWebhookEvent_UnmatchedStream(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.HandleWebhookEvent(context.Background(), "video.live_stream.active", "ls_unknown")
	assert.Error(t, err, "unmatched external id must error so the delivery is retried")

	err = svc.HandleWebhookEvent(context.Background(), "video.live_stream.active", "")
	assert.ErrorIs(t, err, ErrMissingStreamID)
}
