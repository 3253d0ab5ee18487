package loyalty

import "github.com/shopspring/decimal"

// RedeemRequest for POST /rewards/redeem
type RedeemRequest struct {
	OrderID     string          `json:"order_id" validate:"required,max=64"`
	PointsToUse int64           `json:"points_to_use" validate:"gt=0"`
	OrderAmount decimal.Decimal `json:"order_amount" validate:"gt=0"`
}

// TimezoneRequest for PUT /rewards/timezone
type TimezoneRequest struct {
	Timezone string `json:"timezone" validate:"required,max=64"`
}

// TiersResponse for GET /rewards/tiers
type TiersResponse struct {
	Tiers []Tier `json:"tiers"`
}
