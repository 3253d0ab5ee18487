package loyalty

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTiers is used when no tier table is configured.
const DefaultTiers = "0:1.0:none,3:1.2:low,7:1.5:medium,14:2.0:high,30:3.0:trophy"

var one = decimal.NewFromInt(1)

// Tier is one rung of the streak multiplier table.
type Tier struct {
	MinStreak  int             `json:"min_streak"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Badge      string          `json:"badge"`
}

// Schedule maps a streak to its tier. Thresholds strictly increase and
// multipliers never decrease.
type Schedule struct {
	tiers []Tier
}

// ParseSchedule reads "minStreak:multiplier:badge" entries separated by commas.
func ParseSchedule(s string) (*Schedule, error) {
	if strings.TrimSpace(s) == "" {
		s = DefaultTiers
	}
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: entry %q must be minStreak:multiplier:badge", ErrInvalidSchedule, part)
		}
		minStreak, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: streak %q: %v", ErrInvalidSchedule, fields[0], err)
		}
		mult, err := decimal.NewFromString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: multiplier %q: %v", ErrInvalidSchedule, fields[1], err)
		}
		tiers = append(tiers, Tier{MinStreak: minStreak, Multiplier: mult, Badge: strings.TrimSpace(fields[2])})
	}
	return NewSchedule(tiers)
}

// NewSchedule validates tiers given in ascending order.
func NewSchedule(tiers []Tier) (*Schedule, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidSchedule)
	}
	if tiers[0].MinStreak != 0 {
		return nil, fmt.Errorf("%w: first tier must start at streak 0", ErrInvalidSchedule)
	}
	for i, t := range tiers {
		if t.Multiplier.LessThan(one) {
			return nil, fmt.Errorf("%w: multiplier %s below 1.0", ErrInvalidSchedule, t.Multiplier)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.MinStreak <= prev.MinStreak {
			return nil, fmt.Errorf("%w: streak thresholds must increase (%d after %d)", ErrInvalidSchedule, t.MinStreak, prev.MinStreak)
		}
		if t.Multiplier.LessThan(prev.Multiplier) {
			return nil, fmt.Errorf("%w: multiplier %s after %s decreases", ErrInvalidSchedule, t.Multiplier, prev.Multiplier)
		}
	}
	return &Schedule{tiers: append([]Tier(nil), tiers...)}, nil
}

// Tiers returns a copy of the table.
func (s *Schedule) Tiers() []Tier {
	return append([]Tier(nil), s.tiers...)
}

// TierFor returns the highest tier the streak reaches.
func (s *Schedule) TierFor(streak int) Tier {
	cur := s.tiers[0]
	for _, t := range s.tiers[1:] {
		if streak < t.MinStreak {
			break
		}
		cur = t
	}
	return cur
}

// Next returns the first tier above the streak's current one.
func (s *Schedule) Next(streak int) (Tier, bool) {
	for _, t := range s.tiers {
		if t.MinStreak > streak {
			return t, true
		}
	}
	return Tier{}, false
}

// Award is floor(base * multiplier) for the given streak.
func (s *Schedule) Award(base int64, streak int) int64 {
	return decimal.NewFromInt(base).Mul(s.TierFor(streak).Multiplier).Floor().IntPart()
}

// StreakBonus describes the next tier for UI display.
type StreakBonus struct {
	CurrentTier     Tier            `json:"current_tier"`
	NextTier        *Tier           `json:"next_tier,omitempty"`
	DaysRemaining   int             `json:"days_remaining"`
	BonusPercentage decimal.Decimal `json:"bonus_percentage"`
}

// NextStreakBonus reports how far the streak is from the next tier and the bonus
// it unlocks. At the top tier it reports the bonus already held.
func (s *Schedule) NextStreakBonus(streak int) StreakBonus {
	if streak < 0 {
		streak = 0
	}
	cur := s.TierFor(streak)
	out := StreakBonus{CurrentTier: cur, BonusPercentage: bonusPercent(cur.Multiplier)}
	if next, ok := s.Next(streak); ok {
		out.NextTier = &next
		out.DaysRemaining = next.MinStreak - streak
		out.BonusPercentage = bonusPercent(next.Multiplier)
	}
	return out
}

func bonusPercent(mult decimal.Decimal) decimal.Decimal {
	return mult.Sub(one).Shift(2)
}
