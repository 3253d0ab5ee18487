package commission

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReviewRequest for POST /admin/commissions/{id}/review
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,review_decision"`
	Reason   string `json:"reason,omitempty" validate:"max=500"`
}

// BalanceResponse for GET /affiliate/balance
type BalanceResponse struct {
	PromoterID uuid.UUID       `json:"promoter_id"`
	Pending    decimal.Decimal `json:"pending"`
	Approved   decimal.Decimal `json:"approved"`
	Reserved   decimal.Decimal `json:"reserved"`
	Available  decimal.Decimal `json:"available"`
	Paid       decimal.Decimal `json:"paid"`
}

func balanceResponse(promoterID uuid.UUID, b *Balance) *BalanceResponse {
	return &BalanceResponse{
		PromoterID: promoterID,
		Pending:    b.Pending,
		Approved:   b.Approved,
		Reserved:   b.Reserved,
		Available:  b.Available,
		Paid:       b.Paid,
	}
}
