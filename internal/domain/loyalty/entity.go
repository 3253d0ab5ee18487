package loyalty

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/pkg/money"
)

// dateLayout is a calendar day in the account's timezone.
const dateLayout = "2006-01-02"

// Redemption limits: 100 points buy one percent, capped at 20 percent.
const (
	PointsPerPercent    = 100
	MaxDiscountPercent  = 20
	MaxRedeemablePoints = PointsPerPercent * MaxDiscountPercent
)

// Ledger kinds
const (
	KindDailyClaim = "daily_claim"
	KindRedemption = "redemption"
)

// Account is a customer's point balance and streak. It is created on the first claim.
type Account struct {
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	Points        int64     `db:"points" json:"points"`
	TotalEarned   int64     `db:"total_earned" json:"total_earned"`
	StreakDays    int       `db:"streak_days" json:"streak_days"`
	LastClaimDate string    `db:"last_claim_date" json:"last_claim_date,omitempty"`
	Timezone      string    `db:"timezone" json:"timezone"`
	Version       int64     `db:"version" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ClaimResult is returned by ClaimDaily.
type ClaimResult struct {
	PointsAwarded int64           `json:"points_awarded"`
	NewStreak     int             `json:"new_streak"`
	Points        int64           `json:"points"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Badge         string          `json:"badge"`
	ClaimDate     string          `json:"claim_date"`
}

// Info is the account summary shown in the rewards widget.
type Info struct {
	Points        int64           `json:"points"`
	TotalEarned   int64           `json:"total_earned"`
	Streak        int             `json:"streak"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Badge         string          `json:"badge"`
	CanClaimToday bool            `json:"can_claim_today"`
	Timezone      string          `json:"timezone"`
	NextBonus     StreakBonus     `json:"next_bonus"`
}

// Quote is the discount a number of points buys on an order.
type Quote struct {
	PointsRequested    int64           `json:"points_requested"`
	PointsUsed         int64           `json:"points_used"`
	OrderAmount        decimal.Decimal `json:"order_amount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
}

// Redemption is written once per (user, order) and never changes.
type Redemption struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	UserID             uuid.UUID       `db:"user_id" json:"user_id"`
	OrderID            string          `db:"order_id" json:"order_id"`
	PointsRequested    int64           `db:"points_requested" json:"points_requested"`
	PointsUsed         int64           `db:"points_used" json:"points_used"`
	OrderAmount        decimal.Decimal `db:"order_amount" json:"order_amount"`
	DiscountAmount     decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	DiscountPercentage decimal.Decimal `db:"discount_percentage" json:"discount_percentage"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	Replayed           bool            `db:"-" json:"replayed"`
}

// matches reports whether a retried redeem carries the same arguments.
func (r *Redemption) matches(points int64, orderAmount decimal.Decimal) bool {
	return r.PointsRequested == points && r.OrderAmount.Equal(orderAmount)
}

// ComputeQuote converts points to a discount. It does not look at any balance.
func ComputeQuote(points int64, orderAmount decimal.Decimal, minorUnits int32) Quote {
	used := points
	if used > MaxRedeemablePoints {
		used = MaxRedeemablePoints
	}
	if used < 0 {
		used = 0
	}
	pct := decimal.NewFromInt(used).Div(decimal.NewFromInt(PointsPerPercent)).Round(2)
	return Quote{
		PointsRequested:    points,
		PointsUsed:         used,
		OrderAmount:        orderAmount,
		DiscountPercentage: pct,
		DiscountAmount:     money.Round(money.PercentOf(orderAmount, pct), minorUnits),
	}
}
