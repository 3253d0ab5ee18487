package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
)

// Ledger owns commission entries and every balance derived from them.
type Ledger struct {
	repo Repository
}

// NewLedger creates the commission ledger service
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Record persists freshly attributed pending entries together with their budget charges.
func (l *Ledger) Record(ctx context.Context, entries []*Transaction, charges []BudgetCharge) error {
	for _, e := range entries {
		if e.CommissionAmount.IsNegative() {
			return ErrInvalidAmount
		}
		if e.Status != StatusPending {
			return fmt.Errorf("%w: new entries start pending, got %s", ErrInvalidStateTransition, e.Status)
		}
	}
	if len(entries) == 0 {
		return nil
	}
	return l.repo.Insert(ctx, entries, charges)
}

// ForOrder returns the entries already written for an order.
func (l *Ledger) ForOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	return l.repo.ListByOrder(ctx, orderID)
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return l.repo.GetByID(ctx, id)
}

// Review applies a reviewer decision to a pending entry.
func (l *Ledger) Review(ctx context.Context, id uuid.UUID, decision Decision, reviewerID uuid.UUID, reason string) (*Transaction, error) {
	to, err := decision.Target()
	if err != nil {
		return nil, err
	}

	current, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, current.Status, to)
	}

	updated, err := l.repo.Transition(ctx, TransitionParams{
		ID:      id,
		From:    current.Status,
		To:      to,
		ActorID: uuid.NullUUID{UUID: reviewerID, Valid: reviewerID != uuid.Nil},
		Reason:  reason,
	})
	if errors.Is(err, errStaleStatus) {
		return nil, fmt.Errorf("%w: %s was decided concurrently", ErrInvalidStateTransition, id)
	}
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("transaction_id", id.String()).
		Str("reviewer_id", reviewerID.String()).
		Str("status", string(updated.Status)).
		Msg("commission reviewed")
	return updated, nil
}

// MarkPaid moves one approved entry to paid on behalf of a withdrawal. Repeating
// the call for the same withdrawal returns the paid entry unchanged.
func (l *Ledger) MarkPaid(ctx context.Context, id, withdrawalID uuid.UUID) (*Transaction, error) {
	current, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if paidBy(current, withdrawalID) {
		return current, nil
	}
	if !CanTransition(current.Status, StatusPaid) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, current.Status, StatusPaid)
	}
	if current.WithdrawalID.Valid && current.WithdrawalID.UUID != withdrawalID {
		return nil, fmt.Errorf("%w: reserved by withdrawal %s", ErrInvalidStateTransition, current.WithdrawalID.UUID)
	}

	updated, err := l.repo.Transition(ctx, TransitionParams{
		ID:           id,
		From:         StatusApproved,
		To:           StatusPaid,
		Reason:       "withdrawal " + withdrawalID.String(),
		WithdrawalID: uuid.NullUUID{UUID: withdrawalID, Valid: true},
	})
	if errors.Is(err, errStaleStatus) {
		again, getErr := l.repo.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if paidBy(again, withdrawalID) {
			return again, nil
		}
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStateTransition, id)
	}
	return updated, err
}

func paidBy(t *Transaction, withdrawalID uuid.UUID) bool {
	return t.Status == StatusPaid && t.WithdrawalID.Valid && t.WithdrawalID.UUID == withdrawalID
}

// MarkWithdrawalPaid pays every entry a withdrawal reserved in one write. Entries
// already paid are skipped, so re-driving a settled withdrawal is safe.
func (l *Ledger) MarkWithdrawalPaid(ctx context.Context, withdrawalID uuid.UUID) ([]*Transaction, error) {
	paid, err := l.repo.MarkPaidByWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info().
		Str("withdrawal_id", withdrawalID.String()).
		Int("transactions", len(paid)).
		Msg("commissions marked paid")
	return paid, nil
}

// Balance sums the promoter's ledger by status.
func (l *Ledger) Balance(ctx context.Context, promoterID uuid.UUID) (*Balance, error) {
	sums, err := l.repo.SumByStatus(ctx, promoterID)
	if err != nil {
		return nil, err
	}
	b := BalanceFromSums(sums)
	return &b, nil
}

// List returns a page of the promoter's entries.
func (l *Ledger) List(ctx context.Context, promoterID uuid.UUID, f ListFilter) ([]*Transaction, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return l.repo.ListByPromoter(ctx, promoterID, f)
}

// Events returns the audit trail of an entry.
func (l *Ledger) Events(ctx context.Context, id uuid.UUID) ([]*Event, error) {
	if _, err := l.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return l.repo.Events(ctx, id)
}

// LinkStats returns conversions and earnings per link.
func (l *Ledger) LinkStats(ctx context.Context, linkIDs []uuid.UUID) (map[uuid.UUID]LinkStats, error) {
	return l.repo.LinkStats(ctx, linkIDs)
}

// Reserve earmarks approved entries for a withdrawal and returns them with their sum.
func (l *Ledger) Reserve(ctx context.Context, promoterID, withdrawalID uuid.UUID, max decimal.Decimal) ([]*Transaction, decimal.Decimal, error) {
	picked, err := l.repo.Reserve(ctx, promoterID, withdrawalID, max)
	if err != nil {
		return nil, decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range picked {
		total = total.Add(t.CommissionAmount)
	}
	return picked, total, nil
}

// Release returns a withdrawal's reserved entries to the available pool.
func (l *Ledger) Release(ctx context.Context, withdrawalID uuid.UUID) error {
	n, err := l.repo.Release(ctx, withdrawalID)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info().
		Str("withdrawal_id", withdrawalID.String()).
		Int64("transactions", n).
		Msg("commission reservation released")
	return nil
}

// StaleReservations returns withdrawals still holding approved entries that
// were last touched before the cutoff.
func (l *Ledger) StaleReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.repo.StaleReservations(ctx, before, limit)
}
