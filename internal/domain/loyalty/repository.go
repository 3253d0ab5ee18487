package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
	"github.com/uzmarket/marketplace-core/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const accountColumns = `user_id, points, total_earned, streak_days,
	COALESCE(to_char(last_claim_date, 'YYYY-MM-DD'), '') AS last_claim_date,
	timezone, version, created_at, updated_at`

const redemptionColumns = `id, user_id, order_id, points_requested, points_used, order_amount,
	discount_amount, discount_percentage, created_at`

// Repository persists loyalty accounts. Every write checks the version it read.
type Repository interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	// SaveClaim stores acc with the awarded delta. acc.Version is the version that was read.
	SaveClaim(ctx context.Context, acc *Account, delta int64) error
	SetTimezone(ctx context.Context, userID uuid.UUID, tz string) (*Account, error)
	GetRedemption(ctx context.Context, userID uuid.UUID, orderID string) (*Redemption, error)
	// SaveRedemption debits acc and writes r in one transaction.
	SaveRedemption(ctx context.Context, acc *Account, r *Redemption) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the PostgreSQL loyalty repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	err := r.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM loyalty_accounts WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loyalty account: %w", err)
	}
	return &a, nil
}

func (r *repository) SaveClaim(ctx context.Context, acc *Account, delta int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var res sql.Result
		var err error
		if acc.Version == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO loyalty_accounts (user_id, points, total_earned, streak_days, last_claim_date, timezone, version)
				VALUES ($1, $2, $3, $4, $5::date, $6, 1)
				ON CONFLICT (user_id) DO NOTHING
			`, acc.UserID, acc.Points, acc.TotalEarned, acc.StreakDays, acc.LastClaimDate, acc.Timezone)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE loyalty_accounts
				SET points = $2, total_earned = $3, streak_days = $4, last_claim_date = $5::date,
				    version = version + 1, updated_at = now()
				WHERE user_id = $1 AND version = $6
			`, acc.UserID, acc.Points, acc.TotalEarned, acc.StreakDays, acc.LastClaimDate, acc.Version)
		}
		if err != nil {
			return fmt.Errorf("save claim: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if err := insertLedger(ctx, tx, acc.UserID, delta, KindDailyClaim, acc.LastClaimDate, acc.Points); err != nil {
			return err
		}
		acc.Version++
		return nil
	})
}

func (r *repository) SetTimezone(ctx context.Context, userID uuid.UUID, tz string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	err := r.db.GetContext(ctx, &a, `
		INSERT INTO loyalty_accounts (user_id, timezone, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET timezone = EXCLUDED.timezone, version = loyalty_accounts.version + 1, updated_at = now()
		RETURNING `+accountColumns, userID, tz)
	if err != nil {
		return nil, fmt.Errorf("set timezone: %w", err)
	}
	return &a, nil
}

func (r *repository) GetRedemption(ctx context.Context, userID uuid.UUID, orderID string) (*Redemption, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var red Redemption
	err := r.db.GetContext(ctx, &red, `
		SELECT `+redemptionColumns+`
		FROM reward_redemptions
		WHERE user_id = $1 AND order_id = $2
	`, userID, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return &red, nil
}

func (r *repository) SaveRedemption(ctx context.Context, acc *Account, red *Redemption) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE loyalty_accounts
			SET points = $2, version = version + 1, updated_at = now()
			WHERE user_id = $1 AND version = $3
		`, acc.UserID, acc.Points, acc.Version)
		if err != nil {
			return fmt.Errorf("debit points: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if err := insertLedger(ctx, tx, acc.UserID, -red.PointsUsed, KindRedemption, red.OrderID, acc.Points); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reward_redemptions (
				id, user_id, order_id, points_requested, points_used, order_amount,
				discount_amount, discount_percentage, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, red.ID, red.UserID, red.OrderID, red.PointsRequested, red.PointsUsed, red.OrderAmount,
			red.DiscountAmount, red.DiscountPercentage, red.CreatedAt)
		if database.IsUniqueViolation(err, "reward_redemptions_order_key") {
			return fmt.Errorf("%w: redemption for order %s written concurrently", apperr.ErrOptimisticConflict, red.OrderID)
		}
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		acc.Version++
		return nil
	})
}

func insertLedger(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta int64, kind, ref string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO loyalty_transactions (id, user_id, delta, kind, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), userID, delta, kind, ref, balance)
	if database.IsUniqueViolation(err, "loyalty_transactions_reference_key") {
		return fmt.Errorf("%w: %s %s already recorded", apperr.ErrOptimisticConflict, kind, ref)
	}
	if err != nil {
		return fmt.Errorf("insert loyalty transaction: %w", err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: loyalty account changed concurrently", apperr.ErrOptimisticConflict)
	}
	return nil
}
