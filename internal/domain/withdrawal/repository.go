package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

const withdrawalColumns = `id, user_id, requested_amount, amount, method, account_ref, status, reviewer_id,
	failure_reason, payout_reference, payout_attempts, created_at, updated_at, settled_at, completed_at`

// Repository persists withdrawals. Status changes are compare-and-set on the current status.
type Repository interface {
	Create(ctx context.Context, w *Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*Withdrawal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Withdrawal, int, error)
	// Settle moves a pending withdrawal to approved or rejected.
	Settle(ctx context.Context, id uuid.UUID, to Status, reviewerID uuid.UUID) (*Withdrawal, error)
	// Complete moves an approved withdrawal to completed.
	Complete(ctx context.Context, id uuid.UUID, reference string) (*Withdrawal, error)
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
	// ListUnpaid returns approved withdrawals with fewer than maxAttempts payout attempts.
	ListUnpaid(ctx context.Context, maxAttempts, limit int) ([]*Withdrawal, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the PostgreSQL withdrawal repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, w *Withdrawal) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.GetContext(ctx, w, `
		INSERT INTO withdrawals (id, user_id, requested_amount, amount, method, account_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+withdrawalColumns,
		w.ID, w.UserID, w.RequestedAmount, w.Amount, string(w.Method), w.AccountRef, string(StatusPending))
	if err != nil {
		return fmt.Errorf("create withdrawal: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var w Withdrawal
	err := r.db.GetContext(ctx, &w, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return &w, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Withdrawal, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM withdrawals WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count withdrawals: %w", err)
	}

	var items []*Withdrawal
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list withdrawals: %w", err)
	}
	return items, total, nil
}

func (r *repository) Settle(ctx context.Context, id uuid.UUID, to Status, reviewerID uuid.UUID) (*Withdrawal, error) {
	if !CanTransition(StatusPending, to) {
		return nil, fmt.Errorf("%w: pending to %s", ErrInvalidStateTransition, to)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var w Withdrawal
	err := r.db.GetContext(ctx, &w, `
		UPDATE withdrawals
		SET status = $2, reviewer_id = $3, settled_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+withdrawalColumns, id, string(to), reviewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.staleOrMissing(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("settle withdrawal: %w", err)
	}
	return &w, nil
}

func (r *repository) Complete(ctx context.Context, id uuid.UUID, reference string) (*Withdrawal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var w Withdrawal
	err := r.db.GetContext(ctx, &w, `
		UPDATE withdrawals
		SET status = 'completed', payout_reference = $2, failure_reason = NULL,
		    payout_attempts = payout_attempts + 1, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'approved'
		RETURNING `+withdrawalColumns, id, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.staleOrMissing(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("complete withdrawal: %w", err)
	}
	return &w, nil
}

func (r *repository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if len(reason) > 500 {
		reason = reason[:500]
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET failure_reason = $2, payout_attempts = payout_attempts + 1, updated_at = now()
		WHERE id = $1 AND status = 'approved'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("record payout failure: %w", err)
	}
	return nil
}

func (r *repository) ListUnpaid(ctx context.Context, maxAttempts, limit int) ([]*Withdrawal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var items []*Withdrawal
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = 'approved' AND payout_attempts < $1
		ORDER BY settled_at
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpaid withdrawals: %w", err)
	}
	return items, nil
}

// staleOrMissing tells a lost compare-and-set apart from an unknown id.
func (r *repository) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidStateTransition
}
