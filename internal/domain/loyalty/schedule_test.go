package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleDefault(t *testing.T) {
	s, err := ParseSchedule("")
	require.NoError(t, err)

	tests := []struct {
		streak int
		badge  string
		mult   string
		award  int64
	}{
		{0, "none", "1", 10},
		{1, "none", "1", 10},
		{3, "low", "1.2", 12},
		{6, "low", "1.2", 12},
		{7, "medium", "1.5", 15},
		{14, "high", "2", 20},
		{29, "high", "2", 20},
		{30, "trophy", "3", 30},
		{365, "trophy", "3", 30},
	}
	for _, tt := range tests {
		tier := s.TierFor(tt.streak)
		assert.Equal(t, tt.badge, tier.Badge, "streak %d", tt.streak)
		assert.True(t, tier.Multiplier.Equal(decimal.RequireFromString(tt.mult)), "streak %d", tt.streak)
		assert.Equal(t, tt.award, s.Award(10, tt.streak), "streak %d", tt.streak)
	}
}

func TestAwardFloors(t *testing.T) {
	s, err := ParseSchedule("0:1.0:none,2:1.25:low")
	require.NoError(t, err)
	assert.Equal(t, int64(8), s.Award(7, 2)) // 8.75
}

func TestParseScheduleRejectsBadTables(t *testing.T) {
	tests := map[string]string{
		"not starting at zero":  "1:1.0:none,3:1.2:low",
		"decreasing multiplier": "0:1.0:none,3:1.5:low,7:1.2:medium",
		"repeated threshold":    "0:1.0:none,3:1.2:low,3:1.5:medium",
		"multiplier below one":  "0:0.5:none",
		"malformed entry":       "0:1.0",
		"bad number":            "zero:1.0:none",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchedule(in)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestNextStreakBonus(t *testing.T) {
	s, err := ParseSchedule(DefaultTiers)
	require.NoError(t, err)

	b := s.NextStreakBonus(5)
	assert.Equal(t, "low", b.CurrentTier.Badge)
	require.NotNil(t, b.NextTier)
	assert.Equal(t, "medium", b.NextTier.Badge)
	assert.Equal(t, 2, b.DaysRemaining)
	assert.Equal(t, "50", b.BonusPercentage.String())

	b = s.NextStreakBonus(0)
	require.NotNil(t, b.NextTier)
	assert.Equal(t, 3, b.DaysRemaining)
	assert.Equal(t, "20", b.BonusPercentage.String())

	b = s.NextStreakBonus(40)
	assert.Nil(t, b.NextTier)
	assert.Zero(t, b.DaysRemaining)
	assert.Equal(t, "200", b.BonusPercentage.String())
}
