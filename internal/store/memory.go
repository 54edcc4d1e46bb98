package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opnode-live/opnode/internal/model"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It enforces the same invariants the hosted store does: username
// uniqueness, one wallet profile per user, terminal gift states, and
// server-side counter increments.
type MemoryStore struct {
	mu sync.RWMutex

	streams         map[string]*model.Stream
	gifts           map[string]*model.Gift
	chatMessages    []*model.ChatMessage
	paymentEntries  []*model.PaymentEntry
	userProfiles    map[string]*model.UserProfile
	walletProfiles  map[string]*model.WalletProfile
	notifications   []*model.Notification
	invoiceRequests map[string]*model.InvoiceRequest
	blocked         map[string]map[string]bool
	reports         []*model.Report
	settings        map[string]*model.StreamSettings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:         make(map[string]*model.Stream),
		gifts:           make(map[string]*model.Gift),
		userProfiles:    make(map[string]*model.UserProfile),
		walletProfiles:  make(map[string]*model.WalletProfile),
		invoiceRequests: make(map[string]*model.InvoiceRequest),
		blocked:         make(map[string]map[string]bool),
		settings:        make(map[string]*model.StreamSettings),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateStream(ctx context.Context, s *model.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[s.ID]; ok {
		return ErrConflict
	}
	cp := *s
	m.streams[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetStream(ctx context.Context, id string) (*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetStreamByMuxID(ctx context.Context, muxStreamID string) (*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.streams {
		if s.MuxStreamID == muxStreamID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListStreams(ctx context.Context, onlyLive bool, category string, limit int) ([]*model.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Stream
	for _, s := range m.streams {
		if onlyLive && !s.IsLive {
			continue
		}
		if category != "" && s.Category != category {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) PatchStream(ctx context.Context, id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[id]
	if !ok {
		return ErrNotFound
	}

	for k, v := range patch {
		switch k {
		case "is_live":
			s.IsLive = v.(bool)
		case "started_at":
			s.StartedAt = toTimePtr(v)
		case "ended_at":
			s.EndedAt = toTimePtr(v)
		case "viewers":
			s.Viewers = toInt64(v)
		case "title":
			s.Title = v.(string)
		case "description":
			s.Description = v.(string)
		case "category":
			s.Category = v.(string)
		}
	}
	return nil
}

func (m *MemoryStore) IncrementStreamCounters(ctx context.Context, streamID string, earningsSats, gifts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[streamID]
	if !ok {
		return ErrNotFound
	}
	s.TotalEarnings += earningsSats
	s.TotalGifts += gifts
	return nil
}

func (m *MemoryStore) IncrementStreamViewers(ctx context.Context, streamID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[streamID]
	if !ok {
		return ErrNotFound
	}
	s.Viewers += delta
	if delta > 0 {
		s.TotalViews += delta
	}
	if s.Viewers < 0 {
		s.Viewers = 0
	}
	return nil
}

func (m *MemoryStore) CreateGift(ctx context.Context, g *model.Gift) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.gifts[g.ID]; ok {
		return ErrConflict
	}
	cp := *g
	m.gifts[g.ID] = &cp
	return nil
}

func (m *MemoryStore) GetGift(ctx context.Context, id string) (*model.Gift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.gifts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) UpdateGiftStatus(ctx context.Context, id string, status model.GiftStatus, paymentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.gifts[id]
	if !ok {
		return ErrNotFound
	}
	if g.Status.Terminal() {
		return ErrTerminalGift
	}
	g.Status = status
	if paymentHash != "" {
		g.PaymentHash = paymentHash
	}
	return nil
}

func (m *MemoryStore) ListPendingGiftsBefore(ctx context.Context, cutoff time.Time) ([]*model.Gift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Gift
	for _, g := range m.gifts {
		if g.Status == model.GiftPending && g.CreatedAt.Before(cutoff) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.chatMessages = append(m.chatMessages, &cp)
	return nil
}

func (m *MemoryStore) ListChatMessages(ctx context.Context, streamID string, limit int) ([]*model.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ChatMessage
	for _, msg := range m.chatMessages {
		if msg.StreamID == streamID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	// Chronological order, bounded to the most recent limit entries.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) CreatePaymentEntry(ctx context.Context, e *model.PaymentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.paymentEntries = append(m.paymentEntries, &cp)
	return nil
}

func (m *MemoryStore) PaymentEntryExists(ctx context.Context, userID, paymentHash string, direction model.PaymentDirection) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.paymentEntries {
		if e.UserID == userID && e.PaymentHash == paymentHash && e.Direction == direction {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListPaymentEntries(ctx context.Context, userID string, limit int) ([]*model.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.PaymentEntry
	for i := len(m.paymentEntries) - 1; i >= 0; i-- {
		if m.paymentEntries[i].UserID == userID {
			cp := *m.paymentEntries[i]
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateUserProfile(ctx context.Context, p *model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.userProfiles[p.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.userProfiles {
		if existing.Username == p.Username {
			return ErrConflict
		}
	}
	cp := *p
	m.userProfiles[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUserProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.userProfiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetUserProfileByUsername(ctx context.Context, username string) (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.userProfiles {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) IncrementUserEarnings(ctx context.Context, userID string, amountSats int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.userProfiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.TotalEarnings += amountSats
	return nil
}

func (m *MemoryStore) GetWalletProfile(ctx context.Context, userID string) (*model.WalletProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.walletProfiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpsertWalletProfile(ctx context.Context, p *model.WalletProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.walletProfiles[p.UserID] = &cp
	return nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *n
	m.notifications = append(m.notifications, &cp)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateInvoiceRequest(ctx context.Context, r *model.InvoiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoiceRequests[r.ID]; ok {
		return ErrConflict
	}
	cp := *r
	m.invoiceRequests[r.ID] = &cp
	return nil
}

// InvoiceRequestIDs lists all request IDs in the fake. Test helper.
func (m *MemoryStore) InvoiceRequestIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.invoiceRequests))
	for id := range m.invoiceRequests {
		out = append(out, id)
	}
	return out
}

func (m *MemoryStore) GetInvoiceRequest(ctx context.Context, id string) (*model.InvoiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.invoiceRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) FulfillInvoiceRequest(ctx context.Context, id, paymentRequest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.invoiceRequests[id]
	if !ok || r.Status != model.InvoicePending {
		return ErrNotFound
	}
	r.Status = model.InvoiceFulfilled
	r.PaymentRequest = paymentRequest
	return nil
}

func (m *MemoryStore) ExpireInvoiceRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.invoiceRequests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status == model.InvoicePending {
		r.Status = model.InvoiceExpired
	}
	return nil
}

func (m *MemoryStore) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.blocked[blockerID][blockedID], nil
}

// Block records a block in the fake. Test helper.
func (m *MemoryStore) Block(blockerID, blockedID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocked[blockerID] == nil {
		m.blocked[blockerID] = make(map[string]bool)
	}
	m.blocked[blockerID][blockedID] = true
}

func (m *MemoryStore) CreateReport(ctx context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.reports = append(m.reports, &cp)
	return nil
}

func (m *MemoryStore) GetStreamSettings(ctx context.Context, userID string) (*model.StreamSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// PutStreamSettings stores settings in the fake. Test helper.
func (m *MemoryStore) PutStreamSettings(s *model.StreamSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.settings[s.UserID] = &cp
}

func toTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
