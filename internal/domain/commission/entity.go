package commission

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a commission entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
)

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown commission status %q", s)
}

// CanTransition is the full transition table. Every pair not listed is invalid.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusPaid
	case StatusRejected, StatusPaid:
		return false
	}
	return false
}

// Decision is a reviewer verdict on a pending entry.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Target returns the status the decision moves an entry to.
func (d Decision) Target() (Status, error) {
	switch d {
	case DecisionApprove:
		return StatusApproved, nil
	case DecisionReject:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, string(d))
}

// Transaction is one commission ledger entry per (order, promoter, product).
type Transaction struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	PromoterID       uuid.UUID       `db:"promoter_id" json:"promoter_id"`
	OrderID          string          `db:"order_id" json:"order_id"`
	ProductID        string          `db:"product_id" json:"product_id"`
	LinkID           uuid.UUID       `db:"link_id" json:"link_id"`
	ClickID          uuid.UUID       `db:"click_id" json:"click_id"`
	CampaignID       uuid.NullUUID   `db:"campaign_id" json:"campaign_id"`
	CommissionAmount decimal.Decimal `db:"commission_amount" json:"commission_amount"`
	Status           Status          `db:"status" json:"status"`
	WithdrawalID     uuid.NullUUID   `db:"withdrawal_id" json:"withdrawal_id"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Reserved reports whether a withdrawal holds this entry.
func (t *Transaction) Reserved() bool {
	return t.WithdrawalID.Valid
}

// Event is an append-only audit fact about a status change.
type Event struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	TransactionID uuid.UUID     `db:"transaction_id" json:"transaction_id"`
	FromStatus    *Status       `db:"from_status" json:"from_status,omitempty"`
	ToStatus      Status        `db:"to_status" json:"to_status"`
	ActorID       uuid.NullUUID `db:"actor_id" json:"actor_id"`
	Reason        string        `db:"reason" json:"reason"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// BudgetCharge debits a campaign budget in the same write as the entries it pays for.
type BudgetCharge struct {
	CampaignID uuid.UUID
	Amount     decimal.Decimal
}

// Balance is derived from the ledger on every read.
type Balance struct {
	Pending   decimal.Decimal `json:"pending"`
	Approved  decimal.Decimal `json:"approved"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	Paid      decimal.Decimal `json:"paid"`
	Rejected  decimal.Decimal `json:"rejected"`
}

// StatusSum is one GROUP BY row behind a Balance.
type StatusSum struct {
	Status   Status          `db:"status"`
	Reserved bool            `db:"reserved"`
	Total    decimal.Decimal `db:"total"`
}

// BalanceFromSums folds grouped sums into a Balance.
func BalanceFromSums(sums []StatusSum) Balance {
	b := Balance{
		Pending:  decimal.Zero,
		Approved: decimal.Zero,
		Reserved: decimal.Zero,
		Paid:     decimal.Zero,
		Rejected: decimal.Zero,
	}
	for _, s := range sums {
		switch s.Status {
		case StatusPending:
			b.Pending = b.Pending.Add(s.Total)
		case StatusApproved:
			b.Approved = b.Approved.Add(s.Total)
			if s.Reserved {
				b.Reserved = b.Reserved.Add(s.Total)
			}
		case StatusPaid:
			b.Paid = b.Paid.Add(s.Total)
		case StatusRejected:
			b.Rejected = b.Rejected.Add(s.Total)
		}
	}
	b.Available = b.Approved.Sub(b.Reserved)
	return b
}

// LinkStats are per-link conversion figures, counted from non-rejected entries.
type LinkStats struct {
	LinkID      uuid.UUID       `db:"link_id" json:"link_id"`
	Conversions int64           `db:"conversions" json:"conversions"`
	Earnings    decimal.Decimal `db:"earnings" json:"earnings"`
}

// ListFilter narrows a promoter's ledger listing.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// SelectForReservation picks entries oldest first, keeping each one that still
// fits under max. Callers pass candidates already ordered by creation time.
func SelectForReservation(candidates []*Transaction, max decimal.Decimal) ([]*Transaction, decimal.Decimal) {
	total := decimal.Zero
	var picked []*Transaction
	for _, c := range candidates {
		next := total.Add(c.CommissionAmount)
		if next.GreaterThan(max) {
			continue
		}
		picked = append(picked, c)
		total = next
	}
	return picked, total
}
