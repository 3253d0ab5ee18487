package withdrawal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a withdrawal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusCompleted
	}
	return false
}

// Method is the payout rail a promoter is paid through.
type Method string

const (
	MethodClick Method = "click"
	MethodPayme Method = "payme"
)

func (m Method) Valid() bool {
	return m == MethodClick || m == MethodPayme
}

// Outcome is an admin's verdict on a pending withdrawal.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Withdrawal is a promoter's request to cash out approved commission.
type Withdrawal struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	RequestedAmount decimal.Decimal `db:"requested_amount" json:"requested_amount"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Method          Method          `db:"method" json:"method"`
	AccountRef      string          `db:"account_ref" json:"account_ref,omitempty"`
	Status          Status          `db:"status" json:"status"`
	ReviewerID      uuid.NullUUID   `db:"reviewer_id" json:"reviewer_id"`
	FailureReason   *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	PayoutReference *string         `db:"payout_reference" json:"payout_reference,omitempty"`
	PayoutAttempts  int             `db:"payout_attempts" json:"payout_attempts"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	SettledAt       *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
