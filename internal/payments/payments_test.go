package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/model"
	"github.com/opnode-live/opnode/internal/store"
)

func paymentsFixture(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateUserProfile(context.Background(), &model.UserProfile{
		ID: "user-1", Username: "alice", DisplayName: "Alice",
	}))
	return NewService(st, logging.NewNop()), st
}

func TestProcessReceived(t *testing.T) {
	svc, st := paymentsFixture(t)
	ctx := context.Background()

	err := svc.ProcessReceived(ctx, ReceivedPayment{
		PaymentHash:     "hash-1",
		AmountSats:      5000,
		RecipientUserID: "user-1",
	})
	require.NoError(t, err)

	entries, err := st.ListPaymentEntries(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.PaymentReceived, entries[0].Direction)
	assert.Equal(t, int64(5000), entries[0].AmountSats)

	profile, err := st.GetUserProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), profile.TotalEarnings)

	notifs, err := st.ListNotifications(ctx, "user-1", false, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, "payment", notifs[0].Type)
}

func TestProcessReceived_DuplicateDropped(t *testing.T) {
	svc, st := paymentsFixture(t)
	ctx := context.Background()

	p := ReceivedPayment{PaymentHash: "hash-1", AmountSats: 5000, RecipientUserID: "user-1"}
	require.NoError(t, svc.ProcessReceived(ctx, p))
	require.NoError(t, svc.ProcessReceived(ctx, p))

	entries, err := st.ListPaymentEntries(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "redelivery must not duplicate the entry")

	profile, err := st.GetUserProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), profile.TotalEarnings, "earnings apply once")
}

func TestProcessReceived_Validates(t *testing.T) {
	svc, _ := paymentsFixture(t)

	for _, p := range []ReceivedPayment{
		{AmountSats: 100, RecipientUserID: "user-1"},
		{PaymentHash: "h", RecipientUserID: "user-1"},
		{PaymentHash: "h", AmountSats: -1, RecipientUserID: "user-1"},
		{PaymentHash: "h", AmountSats: 100},
	} {
		assert.Error(t, svc.ProcessReceived(context.Background(), p))
	}
}

func TestRecordSentAndHistory(t *testing.T) {
	svc, _ := paymentsFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordSent(ctx, "user-1", 1000, "stream-1", "gift-1", "hash-1"))
	require.NoError(t, svc.RecordSent(ctx, "user-1", 2000, "stream-1", "gift-2", "hash-2"))

	entries, err := svc.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "gift-2", entries[0].GiftID)
	assert.Equal(t, "pending", entries[0].Status)
	assert.Equal(t, model.PaymentSent, entries[0].Direction)
}
