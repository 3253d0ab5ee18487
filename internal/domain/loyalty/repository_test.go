package loyalty

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestGetAccountScansNullClaimDate(t *testing.T) {
	repo, mock := newMockRepo(t)
	user := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT user_id, points, total_earned, streak_days`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "points", "total_earned", "streak_days", "last_claim_date", "timezone", "version", "created_at", "updated_at",
		}).AddRow(user.String(), 40, 55, 2, "", "Asia/Tashkent", 3, now, now))

	acc, err := repo.GetAccount(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(40), acc.Points)
	assert.Equal(t, "", acc.LastClaimDate)
	assert.Equal(t, int64(3), acc.Version)
}

func TestSaveClaimStaleVersionIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	acc := &Account{UserID: uuid.New(), Points: 20, TotalEarned: 20, StreakDays: 2, LastClaimDate: "2026-05-02", Version: 4}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE loyalty_accounts SET points = \$2`).
		WithArgs(acc.UserID, int64(20), int64(20), 2, "2026-05-02", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveClaim(context.Background(), acc, 10)
	assert.ErrorIs(t, err, apperr.ErrOptimisticConflict)
	assert.Equal(t, int64(4), acc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveClaimFirstClaimInsertsAccount(t *testing.T) {
	repo, mock := newMockRepo(t)
	acc := &Account{UserID: uuid.New(), Points: 10, TotalEarned: 10, StreakDays: 1, LastClaimDate: "2026-05-01", Timezone: "UTC"}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO loyalty_accounts .* ON CONFLICT \(user_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO loyalty_transactions`).
		WithArgs(sqlmock.AnyArg(), acc.UserID, int64(10), KindDailyClaim, "2026-05-01", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveClaim(context.Background(), acc, 10))
	assert.Equal(t, int64(1), acc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRedemptionDuplicateOrderIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	acc := &Account{UserID: uuid.New(), Points: 500, Version: 2}
	red := &Redemption{
		ID: uuid.New(), UserID: acc.UserID, OrderID: "order-1", PointsRequested: 2500, PointsUsed: 2000,
		OrderAmount: decimal.NewFromInt(100000), DiscountAmount: decimal.NewFromInt(20000),
		DiscountPercentage: decimal.NewFromInt(20), CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE loyalty_accounts SET points = \$2, version = version \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO loyalty_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reward_redemptions`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "reward_redemptions_order_key"})
	mock.ExpectRollback()

	err := repo.SaveRedemption(context.Background(), acc, red)
	assert.ErrorIs(t, err, apperr.ErrOptimisticConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
