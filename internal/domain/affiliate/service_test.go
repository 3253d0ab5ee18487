package affiliate

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzmarket/marketplace-core/internal/domain/commission"
	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
	"github.com/uzmarket/marketplace-core/internal/pkg/fingerprint"
	"github.com/uzmarket/marketplace-core/internal/pkg/retry"
)

// memStore is an in-memory Repository.
type memStore struct {
	mu        sync.Mutex
	links     map[uuid.UUID]*Link
	campaigns map[uuid.UUID]*Campaign
	clicks    []*ClickEvent
}

func newMemStore() *memStore {
	return &memStore{links: map[uuid.UUID]*Link{}, campaigns: map[uuid.UUID]*Campaign{}}
}

func (m *memStore) CreateLink(_ context.Context, link *Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.Code == link.Code {
			return errCodeTaken
		}
	}
	c := *link
	m.links[link.ID] = &c
	return nil
}

func (m *memStore) GetLinkByID(_ context.Context, id uuid.UUID) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	c := *l
	return &c, nil
}

func (m *memStore) GetLinkByCode(_ context.Context, code string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.Code == code {
			c := *l
			return &c, nil
		}
	}
	return nil, ErrLinkNotFound
}

func (m *memStore) ListLinksByPromoter(_ context.Context, promoterID uuid.UUID) ([]*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Link
	for _, l := range m.links {
		if l.PromoterID == promoterID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memStore) DeactivateLink(_ context.Context, id uuid.UUID, at time.Time) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	l.IsActive = false
	l.DeactivatedAt = &at
	c := *l
	return &c, nil
}

func (m *memStore) IncrementClicks(_ context.Context, linkID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[linkID]; ok {
		l.Clicks++
	}
	return nil
}

func (m *memStore) CreateCampaign(_ context.Context, c *Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memStore) GetCampaign(_ context.Context, id uuid.UUID) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) EndCampaign(_ context.Context, id uuid.UUID, at time.Time) (*Campaign, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, 0, ErrCampaignNotFound
	}
	if c.EndDate == nil || at.Before(*c.EndDate) {
		c.EndDate = &at
	}
	c.IsActive = false
	c.EndedAt = &at
	var n int64
	for _, l := range m.links {
		if l.CampaignID.Valid && l.CampaignID.UUID == id && l.IsActive {
			l.IsActive = false
			l.DeactivatedAt = &at
			n++
		}
	}
	cp := *c
	return &cp, n, nil
}

func (m *memStore) ListExpiredCampaigns(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for _, c := range m.campaigns {
		if c.IsActive && c.EndDate != nil && !c.EndDate.After(now) {
			out = append(out, c.ID)
		}
	}
	return out, nil
}

func (m *memStore) MaxLookbackDays(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, c := range m.campaigns {
		if c.LookbackDays != nil && *c.LookbackDays > max {
			max = *c.LookbackDays
		}
	}
	return max, nil
}

func (m *memStore) InsertClick(_ context.Context, click *ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *click
	m.clicks = append(m.clicks, &c)
	return nil
}

func (m *memStore) HasRecentClick(_ context.Context, linkID uuid.UUID, fp string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clicks {
		if c.LinkID == linkID && c.FingerprintHash == fp && !c.ClickedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LatestClick(_ context.Context, linkID uuid.UUID, fp string, from, to time.Time) (*ClickEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *ClickEvent
	for _, c := range m.clicks {
		if c.LinkID != linkID || c.FingerprintHash != fp {
			continue
		}
		if c.ClickedAt.Before(from) || c.ClickedAt.After(to) {
			continue
		}
		if best == nil || c.ClickedAt.After(best.ClickedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) actual(linkID uuid.UUID) int64 {
	var n int64
	for _, c := range m.clicks {
		if c.LinkID == linkID {
			n++
		}
	}
	return n + m.links[linkID].ArchivedClicks
}

func (m *memStore) ListClickDrift(_ context.Context, limit int) ([]ClickDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ClickDrift
	for id, l := range m.links {
		if a := m.actual(id); a != l.Clicks {
			out = append(out, ClickDrift{LinkID: id, Recorded: l.Clicks, Actual: a})
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) RecountClicks(_ context.Context, linkID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[linkID].Clicks = m.actual(linkID)
	return nil
}

func (m *memStore) ClicksBefore(_ context.Context, before time.Time, limit int) ([]*ClickEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ClickEvent
	for _, c := range m.clicks {
		if c.ClickedAt.Before(before) {
			cp := *c
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ArchiveClicks(_ context.Context, ids []uuid.UUID, perLink map[uuid.UUID]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := map[uuid.UUID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.clicks[:0]
	for _, c := range m.clicks {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	m.clicks = kept
	for id, n := range perLink {
		m.links[id].ArchivedClicks += n
	}
	return nil
}

// stubLedger records entries per order. failRecords makes the next Record calls
// lose an optimistic race.
type stubLedger struct {
	mu          sync.Mutex
	byOrder     map[string][]*commission.Transaction
	charges     []commission.BudgetCharge
	records     int
	failRecords int
}

func newStubLedger() *stubLedger {
	return &stubLedger{byOrder: map[string][]*commission.Transaction{}}
}

func (l *stubLedger) ForOrder(_ context.Context, orderID string) ([]*commission.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byOrder[orderID], nil
}

func (l *stubLedger) Record(_ context.Context, entries []*commission.Transaction, charges []commission.BudgetCharge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records++
	if l.failRecords > 0 {
		l.failRecords--
		return apperr.ErrOptimisticConflict
	}
	for _, e := range entries {
		l.byOrder[e.OrderID] = append(l.byOrder[e.OrderID], e)
	}
	l.charges = append(l.charges, charges...)
	return nil
}

func (l *stubLedger) LinkStats(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]commission.LinkStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[uuid.UUID]commission.LinkStats{}
	for _, entries := range l.byOrder {
		for _, e := range entries {
			if !want[e.LinkID] {
				continue
			}
			st := out[e.LinkID]
			st.LinkID = e.LinkID
			st.Conversions++
			st.Earnings = st.Earnings.Add(e.CommissionAmount)
			out[e.LinkID] = st
		}
	}
	return out, nil
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedCodes(codes ...string) CodeGenerator {
	i := 0
	return func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

type fixture struct {
	svc    *Service
	store  *memStore
	ledger *stubLedger
	hasher *fingerprint.Hasher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := newMemStore()
	ledger := newStubLedger()
	hasher := fingerprint.NewHasher("test-key")
	cfg := Config{
		LookbackDays:          30,
		DedupWindow:           time.Minute,
		DefaultCommissionRate: decimal.NewFromInt(10),
		MinorUnits:            2,
		Retry:                 retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return &fixture{
		svc:    NewService(store, ledger, hasher, cfg, opts...),
		store:  store,
		ledger: ledger,
		hasher: hasher,
	}
}

func TestIssueLinkRetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t, WithCodeGenerator(fixedCodes("AAAA1111", "AAAA1111", "BBBB2222")))
	ctx := context.Background()
	promoter := uuid.New()

	first, err := f.svc.IssueLink(ctx, promoter, "sku-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "AAAA1111", first.Code)
	assert.True(t, first.CommissionRate.Equal(decimal.NewFromInt(10)))
	assert.True(t, first.IsActive)

	second, err := f.svc.IssueLink(ctx, promoter, "sku-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "BBBB2222", second.Code)
}

func TestIssueLinkGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, WithCodeGenerator(fixedCodes("SAMECODE")))
	ctx := context.Background()

	_, err := f.svc.IssueLink(ctx, uuid.New(), "sku-1", nil)
	require.NoError(t, err)

	_, err = f.svc.IssueLink(ctx, uuid.New(), "sku-1", nil)
	assert.ErrorIs(t, err, ErrDuplicateCodeExhausted)
}

func TestIssueLinkRequiresProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueLink(context.Background(), uuid.New(), "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidProduct)
}

func TestIssueLinkTakesCampaignRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateCampaign(ctx, uuid.New(), CampaignInput{Name: "spring", CommissionRate: decimal.NewFromInt(15)})
	require.NoError(t, err)

	link, err := f.svc.IssueLink(ctx, uuid.New(), "sku-1", &c.ID)
	require.NoError(t, err)
	assert.True(t, link.CampaignID.Valid)
	assert.Equal(t, c.ID, link.CampaignID.UUID)
	assert.True(t, link.CommissionRate.Equal(decimal.NewFromInt(15)))
}

func TestIssueLinkRejectsEndedCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	merchant := uuid.New()

	c, err := f.svc.CreateCampaign(ctx, merchant, CampaignInput{Name: "x", CommissionRate: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = f.svc.EndCampaign(ctx, merchant, c.ID, false)
	require.NoError(t, err)

	_, err = f.svc.IssueLink(ctx, uuid.New(), "sku-1", &c.ID)
	assert.ErrorIs(t, err, ErrCampaignInactive)
}

func TestCreateCampaignValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	neg := decimal.NewFromInt(-1)
	before := testNow.Add(-time.Hour)

	tests := []struct {
		name string
		in   CampaignInput
		want error
	}{
		{"rate above 100", CampaignInput{CommissionRate: decimal.NewFromInt(101)}, ErrInvalidRate},
		{"negative rate", CampaignInput{CommissionRate: decimal.NewFromInt(-5)}, ErrInvalidRate},
		{"non-positive budget", CampaignInput{CommissionRate: decimal.NewFromInt(5), Budget: &neg}, ErrInvalidBudget},
		{"end before start", CampaignInput{CommissionRate: decimal.NewFromInt(5), EndDate: &before}, ErrInvalidDates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateCampaign(ctx, uuid.New(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEndCampaignDeactivatesLinksAndChecksOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	merchant := uuid.New()

	c, err := f.svc.CreateCampaign(ctx, merchant, CampaignInput{Name: "x", CommissionRate: decimal.NewFromInt(5)})
	require.NoError(t, err)
	link, err := f.svc.IssueLink(ctx, uuid.New(), "sku-1", &c.ID)
	require.NoError(t, err)

	_, err = f.svc.EndCampaign(ctx, uuid.New(), c.ID, false)
	assert.ErrorIs(t, err, ErrNotCampaignOwner)

	ended, err := f.svc.EndCampaign(ctx, uuid.New(), c.ID, true)
	require.NoError(t, err)
	require.NotNil(t, ended.EndDate)
	assert.False(t, ended.IsActive)

	stored, err := f.store.GetLinkByID(ctx, link.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestExpireCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := testNow.Add(time.Hour)
	start := testNow.Add(-48 * time.Hour)

	_, err := f.svc.CreateCampaign(ctx, uuid.New(), CampaignInput{Name: "x", CommissionRate: decimal.NewFromInt(5), StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	n, err := f.svc.ExpireCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.svc.now = func() time.Time { return end.Add(time.Minute) }
	n, err = f.svc.ExpireCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeactivateLinkOwnerOnlyAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	promoter := uuid.New()

	link, err := f.svc.IssueLink(ctx, promoter, "sku-1", nil)
	require.NoError(t, err)

	_, err = f.svc.DeactivateLink(ctx, uuid.New(), link.ID)
	assert.ErrorIs(t, err, ErrNotLinkOwner)

	off, err := f.svc.DeactivateLink(ctx, promoter, link.ID)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	again, err := f.svc.DeactivateLink(ctx, promoter, link.ID)
	require.NoError(t, err)
	assert.False(t, again.IsActive)
	assert.Equal(t, off.DeactivatedAt, again.DeactivatedAt)
}

func TestRecordClickOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	promoter := uuid.New()

	link, err := f.svc.IssueLink(ctx, promoter, "sku-1", nil)
	require.NoError(t, err)

	res, err := f.svc.RecordClick(ctx, Click{Code: "NOPE0000", VisitorFingerprint: "v1", At: testNow})
	require.NoError(t, err)
	assert.Equal(t, ClickIgnoredUnknownLink, res.Outcome)

	res, err = f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v1", At: testNow})
	require.NoError(t, err)
	require.Equal(t, ClickRecorded, res.Outcome)
	assert.Equal(t, f.hasher.Hash("v1"), res.Event.FingerprintHash)

	res, err = f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v1", At: testNow.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, ClickDuplicate, res.Outcome)

	res, err = f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v2", At: testNow.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, ClickRecorded, res.Outcome)

	res, err = f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v1", At: testNow.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, ClickRecorded, res.Outcome)

	stored, err := f.store.GetLinkByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Clicks)

	_, err = f.svc.DeactivateLink(ctx, promoter, link.ID)
	require.NoError(t, err)
	res, err = f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v3", At: testNow})
	require.NoError(t, err)
	assert.Equal(t, ClickIgnoredInactive, res.Outcome)
}

func TestRecordClickRequiresFingerprint(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordClick(context.Background(), Click{Code: "ABCD1234", VisitorFingerprint: " "})
	assert.ErrorIs(t, err, ErrFingerprintRequired)
}

type failingDeduper struct{ calls int }

func (d *failingDeduper) FirstSeen(context.Context, uuid.UUID, string, time.Time) (bool, error) {
	d.calls++
	return false, assert.AnError
}

func (d *failingDeduper) Forget(context.Context, uuid.UUID, string) error { return nil }

func TestRecordClickFallsBackWhenPrimaryDeduperFails(t *testing.T) {
	primary := &failingDeduper{}
	f := newFixture(t, WithDeduper(primary))
	ctx := context.Background()

	link, err := f.svc.IssueLink(ctx, uuid.New(), "sku-1", nil)
	require.NoError(t, err)

	res, err := f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v1", At: testNow})
	require.NoError(t, err)
	assert.Equal(t, ClickRecorded, res.Outcome)

	res, err = f.svc.RecordClick(ctx, Click{Code: link.Code, VisitorFingerprint: "v1", At: testNow.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, ClickDuplicate, res.Outcome)
	assert.Equal(t, 2, primary.calls)
}

func TestListLinksJoinsLedgerStats(t *testing.T) {
	f := newFixture(t, WithCodeGenerator(fixedCodes("AAAA0001", "AAAA0002")))
	ctx := context.Background()
	promoter := uuid.New()

	a, err := f.svc.IssueLink(ctx, promoter, "sku-1", nil)
	require.NoError(t, err)
	_, err = f.svc.IssueLink(ctx, promoter, "sku-2", nil)
	require.NoError(t, err)

	f.ledger.byOrder["o-1"] = []*commission.Transaction{
		{ID: uuid.New(), OrderID: "o-1", LinkID: a.ID, CommissionAmount: decimal.NewFromInt(250)},
	}

	views, err := f.svc.ListLinks(ctx, promoter)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(1), views[0].Conversions)
	assert.True(t, views[0].Earnings.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int64(0), views[1].Conversions)
	assert.True(t, views[1].Earnings.IsZero())
}
