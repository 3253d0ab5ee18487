package withdrawal

import "github.com/shopspring/decimal"

// CreateRequest for POST /withdrawals
type CreateRequest struct {
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	Method     string          `json:"method" validate:"required,payout_method"`
	AccountRef string          `json:"account_ref" validate:"max=64"`
}

// SettleRequest for POST /admin/withdrawals/{id}/settle
type SettleRequest struct {
	Outcome string `json:"outcome" validate:"required,settle_outcome"`
}
