package affiliate

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/domain/commission"
)

// Link is a promoter's tracked link for one product.
type Link struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PromoterID     uuid.UUID       `db:"promoter_id" json:"promoter_id"`
	ProductID      string          `db:"product_id" json:"product_id"`
	CampaignID     uuid.NullUUID   `db:"campaign_id" json:"campaign_id"`
	Code           string          `db:"code" json:"code"`
	CommissionRate decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	Clicks         int64           `db:"clicks" json:"clicks"`
	ArchivedClicks int64           `db:"archived_clicks" json:"-"`
	DeactivatedAt  *time.Time      `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Campaign is a merchant's commission offer.
type Campaign struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	MerchantID     uuid.UUID           `db:"merchant_id" json:"merchant_id"`
	Name           string              `db:"name" json:"name"`
	CommissionRate decimal.Decimal     `db:"commission_rate" json:"commission_rate"`
	Budget         decimal.NullDecimal `db:"budget" json:"budget"`
	Spent          decimal.Decimal     `db:"spent" json:"spent"`
	LookbackDays   *int                `db:"lookback_days" json:"lookback_days,omitempty"`
	StartDate      time.Time           `db:"start_date" json:"start_date"`
	EndDate        *time.Time          `db:"end_date" json:"end_date,omitempty"`
	EndedAt        *time.Time          `db:"ended_at" json:"ended_at,omitempty"`
	IsActive       bool                `db:"is_active" json:"is_active"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

// OpenAt reports whether new links may still be issued at t.
func (c *Campaign) OpenAt(t time.Time) bool {
	return c.IsActive && !t.Before(c.StartDate) && (c.EndDate == nil || t.Before(*c.EndDate))
}

// Lookback returns the campaign window or the fallback.
func (c *Campaign) Lookback(fallback time.Duration) time.Duration {
	if c == nil || c.LookbackDays == nil || *c.LookbackDays <= 0 {
		return fallback
	}
	return time.Duration(*c.LookbackDays) * 24 * time.Hour
}

// Remaining returns the unspent budget; ok is false for unbudgeted campaigns.
func (c *Campaign) Remaining() (remaining decimal.Decimal, ok bool) {
	if c == nil || !c.Budget.Valid {
		return decimal.Zero, false
	}
	return c.Budget.Decimal.Sub(c.Spent), true
}

// ClickEvent is durable attribution evidence. Rows are never updated.
type ClickEvent struct {
	ID              uuid.UUID `db:"id" json:"id"`
	LinkID          uuid.UUID `db:"link_id" json:"link_id"`
	FingerprintHash string    `db:"fingerprint_hash" json:"fingerprint_hash"`
	IPAddress       string    `db:"ip_address" json:"ip_address"`
	UserAgent       string    `db:"user_agent" json:"user_agent"`
	ClickedAt       time.Time `db:"clicked_at" json:"clicked_at"`
}

// ClickOutcome says what happened to a tracked click.
type ClickOutcome string

const (
	ClickRecorded           ClickOutcome = "recorded"
	ClickIgnoredUnknownLink ClickOutcome = "ignored_unknown_link"
	ClickIgnoredInactive    ClickOutcome = "ignored_inactive"
	ClickDuplicate          ClickOutcome = "duplicate"
)

// ClickResult is returned by RecordClick. Event is nil unless Outcome is ClickRecorded.
type ClickResult struct {
	Outcome ClickOutcome
	Event   *ClickEvent
}

// Click is the input of RecordClick.
type Click struct {
	Code               string
	VisitorFingerprint string
	IPAddress          string
	UserAgent          string
	At                 time.Time
}

// Order is a paid order handed over by the checkout service.
type Order struct {
	ID                 string
	CustomerID         uuid.NullUUID
	VisitorFingerprint string
	AffiliateCode      string
	PlacedAt           time.Time
	Items              []OrderItem
}

// OrderItem is one line of an order. A per-item code overrides the order code.
type OrderItem struct {
	ProductID     string
	AffiliateCode string
	Price         decimal.Decimal
	Quantity      int64
}

// AttributionOutcome distinguishes a credited order from an uncredited one.
type AttributionOutcome string

const (
	Attributed    AttributionOutcome = "attributed"
	NoAttribution AttributionOutcome = "no_attribution"
)

// Attribution is the result of attributing an order.
type Attribution struct {
	Outcome      AttributionOutcome        `json:"outcome"`
	OrderID      string                    `json:"order_id"`
	Transactions []*commission.Transaction `json:"transactions"`
	Replayed     bool                      `json:"replayed"`
}

// LinkView is a link with its ledger-derived figures.
type LinkView struct {
	*Link
	Conversions int64           `json:"conversions"`
	Earnings    decimal.Decimal `json:"earnings"`
}

// ClickDrift is a link whose advisory counter disagrees with its click log.
type ClickDrift struct {
	LinkID   uuid.UUID `db:"link_id"`
	Recorded int64     `db:"recorded"`
	Actual   int64     `db:"actual"`
}
