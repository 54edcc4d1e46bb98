package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		URL:        srv.URL,
		ServiceKey: "service-key",
		Retry:      &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2},
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(Config{ServiceKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestQueryBuilder_URLAndHeaders(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte(`[]`))
	})

	_, err := client.From("streams").
		Select("id,host_id").
		Eq("is_live", true).
		Order("created_at", false).
		Limit(20).
		Execute(context.Background())
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/rest/v1/streams", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "id,host_id", q.Get("select"))
	assert.Equal(t, "eq.true", q.Get("is_live"))
	assert.Equal(t, "created_at.desc", q.Get("order"))
	assert.Equal(t, "20", q.Get("limit"))

	assert.Equal(t, "service-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", got.Header.Get("Authorization"))
}

func TestQueryBuilder_SingleAcceptHeader(t *testing.T) {
	var accept string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	})

	_, err := client.From("streams").Eq("id", "s1").Single().Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.pgrst.object+json", accept)
}

func TestExecuteInsert_PrefersRepresentation(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"s1"}]`))
	})

	resp, err := client.From("streams").ExecuteInsert(context.Background(), map[string]any{"id": "s1"})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "return=representation", got.Header.Get("Prefer"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
}

func TestRPC_Path(t *testing.T) {
	var path string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`null`))
	})

	_, err := client.RPC(context.Background(), "increment_stream_counters", map[string]any{
		"p_stream_id": "s1", "p_earnings": 1000, "p_gifts": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/rpc/increment_stream_counters", path)
}

func TestRequest_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	})

	resp, err := client.From("streams").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequest_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	resp, err := client.From("streams").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResponse_Err(t *testing.T) {
	assert.NoError(t, (&Response{StatusCode: 200}).Err())
	assert.ErrorIs(t, (&Response{StatusCode: 404}).Err(), ErrNotFound)
	assert.ErrorIs(t, (&Response{StatusCode: 406}).Err(), ErrNotFound)
	assert.ErrorIs(t, (&Response{StatusCode: 409}).Err(), ErrConflict)

	err := (&Response{StatusCode: 500, Body: []byte(`{"message":"boom"}`)}).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
