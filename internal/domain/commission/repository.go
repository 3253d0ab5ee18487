package commission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
	"github.com/uzmarket/marketplace-core/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const transactionColumns = `id, promoter_id, order_id, product_id, link_id, click_id, campaign_id,
	commission_amount, status, withdrawal_id, created_at, updated_at`

// Repository is the ledger's storage.
type Repository interface {
	Insert(ctx context.Context, entries []*Transaction, charges []BudgetCharge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error)
	ListByPromoter(ctx context.Context, promoterID uuid.UUID, filter ListFilter) ([]*Transaction, int, error)
	Transition(ctx context.Context, p TransitionParams) (*Transaction, error)
	MarkPaidByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]*Transaction, error)
	Events(ctx context.Context, transactionID uuid.UUID) ([]*Event, error)
	SumByStatus(ctx context.Context, promoterID uuid.UUID) ([]StatusSum, error)
	LinkStats(ctx context.Context, linkIDs []uuid.UUID) (map[uuid.UUID]LinkStats, error)
	Reserve(ctx context.Context, promoterID, withdrawalID uuid.UUID, max decimal.Decimal) ([]*Transaction, error)
	Release(ctx context.Context, withdrawalID uuid.UUID) (int64, error)
	StaleReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// TransitionParams describe one compare-and-set status change.
type TransitionParams struct {
	ID           uuid.UUID
	From         Status
	To           Status
	ActorID      uuid.NullUUID
	Reason       string
	WithdrawalID uuid.NullUUID
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the PostgreSQL ledger repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, entries []*Transaction, charges []BudgetCharge) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, c := range charges {
			res, err := tx.ExecContext(ctx, `
				UPDATE affiliate_campaigns
				SET spent = spent + $2
				WHERE id = $1 AND (budget IS NULL OR spent + $2 <= budget)
			`, c.CampaignID, c.Amount)
			if err != nil {
				return fmt.Errorf("charge campaign %s: %w", c.CampaignID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrBudgetExceeded
			}
		}

		for _, e := range entries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO affiliate_transactions (
					id, promoter_id, order_id, product_id, link_id, click_id, campaign_id,
					commission_amount, status, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			`, e.ID, e.PromoterID, e.OrderID, e.ProductID, e.LinkID, e.ClickID, e.CampaignID,
				e.CommissionAmount, e.Status, e.CreatedAt)
			if err != nil {
				if database.IsUniqueViolation(err, "affiliate_transactions_order_key") {
					return fmt.Errorf("%w: order %s attributed concurrently", apperr.ErrOptimisticConflict, e.OrderID)
				}
				return fmt.Errorf("insert commission: %w", err)
			}
			if err := insertEvent(ctx, tx, e.ID, nil, e.Status, uuid.NullUUID{}, "attributed", e.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, txID uuid.UUID, from *Status, to Status, actor uuid.NullUUID, reason string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO affiliate_transaction_events (id, transaction_id, from_status, to_status, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), txID, from, to, actor, reason, at)
	if err != nil {
		return fmt.Errorf("insert commission event: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Transaction
	err := r.db.GetContext(ctx, &t, `SELECT `+transactionColumns+` FROM affiliate_transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commission: %w", err)
	}
	return &t, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Transaction
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM affiliate_transactions
		WHERE order_id = $1
		ORDER BY created_at, product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list commissions by order: %w", err)
	}
	return out, nil
}

func (r *repository) ListByPromoter(ctx context.Context, promoterID uuid.UUID, f ListFilter) ([]*Transaction, int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var status interface{}
	if f.Status != nil {
		status = string(*f.Status)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM affiliate_transactions
		WHERE promoter_id = $1 AND ($2::text IS NULL OR status = $2)
	`, promoterID, status); err != nil {
		return nil, 0, fmt.Errorf("count commissions: %w", err)
	}

	var out []*Transaction
	if err := r.db.SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM affiliate_transactions
		WHERE promoter_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, promoterID, status, f.Limit, f.Offset); err != nil {
		return nil, 0, fmt.Errorf("list commissions: %w", err)
	}
	return out, total, nil
}

func (r *repository) Transition(ctx context.Context, p TransitionParams) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out Transaction
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &out, `
			UPDATE affiliate_transactions
			SET status = $3,
			    withdrawal_id = COALESCE($4, withdrawal_id),
			    updated_at = now()
			WHERE id = $1
			  AND status = $2
			  AND ($4::uuid IS NULL OR withdrawal_id IS NULL OR withdrawal_id = $4)
			RETURNING `+transactionColumns, p.ID, p.From, p.To, p.WithdrawalID)
		if errors.Is(err, sql.ErrNoRows) {
			return errStaleStatus
		}
		if err != nil {
			return fmt.Errorf("transition commission: %w", err)
		}
		from := p.From
		return insertEvent(ctx, tx, p.ID, &from, p.To, p.ActorID, p.Reason, out.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *repository) MarkPaidByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Transaction
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &out, `
			UPDATE affiliate_transactions
			SET status = 'paid', updated_at = now()
			WHERE withdrawal_id = $1 AND status = 'approved'
			RETURNING `+transactionColumns, withdrawalID); err != nil {
			return fmt.Errorf("mark commissions paid: %w", err)
		}
		from := StatusApproved
		actor := uuid.NullUUID{}
		reason := "withdrawal " + withdrawalID.String()
		for _, t := range out {
			if err := insertEvent(ctx, tx, t.ID, &from, StatusPaid, actor, reason, t.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) Events(ctx context.Context, transactionID uuid.UUID) ([]*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Event
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, transaction_id, from_status, to_status, actor_id, reason, created_at
		FROM affiliate_transaction_events
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list commission events: %w", err)
	}
	return out, nil
}

func (r *repository) SumByStatus(ctx context.Context, promoterID uuid.UUID) ([]StatusSum, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []StatusSum
	err := r.db.SelectContext(ctx, &out, `
		SELECT status, (withdrawal_id IS NOT NULL) AS reserved, COALESCE(SUM(commission_amount), 0) AS total
		FROM affiliate_transactions
		WHERE promoter_id = $1
		GROUP BY status, (withdrawal_id IS NOT NULL)
	`, promoterID)
	if err != nil {
		return nil, fmt.Errorf("sum commissions: %w", err)
	}
	return out, nil
}

func (r *repository) LinkStats(ctx context.Context, linkIDs []uuid.UUID) (map[uuid.UUID]LinkStats, error) {
	out := make(map[uuid.UUID]LinkStats, len(linkIDs))
	if len(linkIDs) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []LinkStats
	err := r.db.SelectContext(ctx, &rows, `
		SELECT link_id,
		       COUNT(*) AS conversions,
		       COALESCE(SUM(commission_amount), 0) AS earnings
		FROM affiliate_transactions
		WHERE link_id = ANY($1::uuid[]) AND status <> 'rejected'
		GROUP BY link_id
	`, pq.Array(uuidStrings(linkIDs)))
	if err != nil {
		return nil, fmt.Errorf("link stats: %w", err)
	}
	for _, s := range rows {
		out[s.LinkID] = s
	}
	return out, nil
}

func (r *repository) Reserve(ctx context.Context, promoterID, withdrawalID uuid.UUID, max decimal.Decimal) ([]*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var picked []*Transaction
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var candidates []*Transaction
		if err := tx.SelectContext(ctx, &candidates, `
			SELECT `+transactionColumns+`
			FROM affiliate_transactions
			WHERE promoter_id = $1 AND status = 'approved' AND withdrawal_id IS NULL
			ORDER BY created_at, id
			FOR UPDATE
		`, promoterID); err != nil {
			return fmt.Errorf("lock approved commissions: %w", err)
		}

		picked, _ = SelectForReservation(candidates, max)
		if len(picked) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(picked))
		for i, t := range picked {
			ids[i] = t.ID
			t.WithdrawalID = uuid.NullUUID{UUID: withdrawalID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE affiliate_transactions
			SET withdrawal_id = $1, updated_at = now()
			WHERE id = ANY($2::uuid[])
		`, withdrawalID, pq.Array(uuidStrings(ids))); err != nil {
			return fmt.Errorf("reserve commissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

func (r *repository) Release(ctx context.Context, withdrawalID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE affiliate_transactions
		SET withdrawal_id = NULL, updated_at = now()
		WHERE withdrawal_id = $1 AND status = 'approved'
	`, withdrawalID)
	if err != nil {
		return 0, fmt.Errorf("release commissions: %w", err)
	}
	return res.RowsAffected()
}

func (r *repository) StaleReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT withdrawal_id
		FROM affiliate_transactions
		WHERE status = 'approved' AND withdrawal_id IS NOT NULL
		GROUP BY withdrawal_id
		HAVING MAX(updated_at) < $1
		ORDER BY MAX(updated_at)
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	return ids, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
