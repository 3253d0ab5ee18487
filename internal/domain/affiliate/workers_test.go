package affiliate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileClicksRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.link(t, uuid.New(), "sku-1", nil)
	f.click(t, l.Code, "v1", testNow)
	f.click(t, l.Code, "v2", testNow)

	f.store.links[l.ID].Clicks = 7

	n, err := ReconcileClicks(ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(2), f.store.links[l.ID].Clicks)

	n, err = ReconcileClicks(ctx, f.store)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type memSink struct {
	objects map[string][]byte
}

func (s *memSink) Put(_ context.Context, key string, body []byte) error {
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = body
	return nil
}

func (s *memSink) Key(kind string, day time.Time) string {
	return kind + "/" + day.Format("2006-01-02") + "/" + uuid.NewString()
}

func TestClickArchiverMovesOnlyExpiredClicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.link(t, uuid.New(), "sku-1", nil)

	old := testNow.Add(-40 * 24 * time.Hour)
	f.click(t, l.Code, "v1", old)
	f.click(t, l.Code, "v2", old.Add(time.Hour))
	f.click(t, l.Code, "v3", testNow.Add(-24*time.Hour))

	sink := &memSink{}
	a := NewClickArchiver(f.store, sink, 30, 7)
	a.now = func() time.Time { return testNow }

	n, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sink.objects, 1)

	for _, body := range sink.objects {
		sc := bufio.NewScanner(bytes.NewReader(body))
		lines := 0
		for sc.Scan() {
			var ev ClickEvent
			require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
			assert.Equal(t, l.ID, ev.LinkID)
			lines++
		}
		assert.Equal(t, 2, lines)
	}

	assert.Len(t, f.store.clicks, 1)
	assert.Equal(t, int64(2), f.store.links[l.ID].ArchivedClicks)

	// the counter still reflects every click ever recorded
	drift, err := f.store.ListClickDrift(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestClickArchiverHonoursLongestCampaignLookback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	days := 90
	start := testNow.Add(-100 * 24 * time.Hour)
	c := f.campaign(t, CampaignInput{Name: "long", CommissionRate: decimal.NewFromInt(10), LookbackDays: &days, StartDate: &start})
	l := f.link(t, uuid.New(), "sku-1", &c.ID)
	f.click(t, l.Code, "v1", testNow.Add(-60*24*time.Hour))

	a := NewClickArchiver(f.store, &memSink{}, 30, 7)
	a.now = func() time.Time { return testNow }

	n, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
