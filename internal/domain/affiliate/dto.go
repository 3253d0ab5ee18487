package affiliate

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateLinkRequest for POST /affiliate/links
type CreateLinkRequest struct {
	ProductID  string     `json:"product_id" validate:"required,max=64"`
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
}

// LinkResponse is a link as shown to its promoter.
type LinkResponse struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	ProductID      string          `json:"product_id"`
	CampaignID     *uuid.UUID      `json:"campaign_id,omitempty"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	IsActive       bool            `json:"is_active"`
	Clicks         int64           `json:"clicks"`
	Conversions    int64           `json:"conversions"`
	Earnings       decimal.Decimal `json:"earnings"`
	CreatedAt      time.Time       `json:"created_at"`
}

func linkResponse(l *Link, conversions int64, earnings decimal.Decimal) *LinkResponse {
	resp := &LinkResponse{
		ID:             l.ID,
		Code:           l.Code,
		ProductID:      l.ProductID,
		CommissionRate: l.CommissionRate,
		IsActive:       l.IsActive,
		Clicks:         l.Clicks,
		Conversions:    conversions,
		Earnings:       earnings,
		CreatedAt:      l.CreatedAt,
	}
	if l.CampaignID.Valid {
		id := l.CampaignID.UUID
		resp.CampaignID = &id
	}
	return resp
}

// CreateCampaignRequest for POST /affiliate/campaigns
type CreateCampaignRequest struct {
	Name           string           `json:"name" validate:"required,max=200"`
	CommissionRate decimal.Decimal  `json:"commission_rate" validate:"gte=0,lte=100"`
	Budget         *decimal.Decimal `json:"budget,omitempty" validate:"omitempty,gt=0"`
	LookbackDays   *int             `json:"lookback_days,omitempty" validate:"omitempty,gte=1,lte=365"`
	StartDate      *time.Time       `json:"start_date,omitempty"`
	EndDate        *time.Time       `json:"end_date,omitempty"`
}

func (r *CreateCampaignRequest) input() CampaignInput {
	return CampaignInput{
		Name:           r.Name,
		CommissionRate: r.CommissionRate,
		Budget:         r.Budget,
		LookbackDays:   r.LookbackDays,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
	}
}

// TrackClickRequest for POST /track/click
type TrackClickRequest struct {
	Code               string `json:"code" validate:"required,max=32"`
	VisitorFingerprint string `json:"visitor_fingerprint" validate:"required,max=512"`
}

// TrackClickResponse reports what happened to the click.
type TrackClickResponse struct {
	Outcome ClickOutcome `json:"outcome"`
}

// AttributionRequest for POST /internal/orders/attribution
type AttributionRequest struct {
	OrderID            string             `json:"order_id" validate:"required,max=64"`
	CustomerID         *uuid.UUID         `json:"customer_id,omitempty"`
	VisitorFingerprint string             `json:"visitor_fingerprint" validate:"max=512"`
	AffiliateCode      string             `json:"affiliate_code,omitempty" validate:"max=32"`
	PlacedAt           time.Time          `json:"placed_at"`
	Items              []OrderItemRequest `json:"items" validate:"dive"`
}

// OrderItemRequest is one order line.
type OrderItemRequest struct {
	ProductID     string          `json:"product_id" validate:"required,max=64"`
	AffiliateCode string          `json:"affiliate_code,omitempty" validate:"max=32"`
	Price         decimal.Decimal `json:"price" validate:"gte=0"`
	Quantity      int64           `json:"quantity" validate:"gt=0"`
}

func (r *AttributionRequest) order() Order {
	o := Order{
		ID:                 r.OrderID,
		VisitorFingerprint: r.VisitorFingerprint,
		AffiliateCode:      r.AffiliateCode,
		PlacedAt:           r.PlacedAt.UTC(),
		Items:              make([]OrderItem, len(r.Items)),
	}
	if r.CustomerID != nil {
		o.CustomerID = uuid.NullUUID{UUID: *r.CustomerID, Valid: true}
	}
	for i, it := range r.Items {
		o.Items[i] = OrderItem{
			ProductID:     it.ProductID,
			AffiliateCode: it.AffiliateCode,
			Price:         it.Price,
			Quantity:      it.Quantity,
		}
	}
	return o
}
