package affiliate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateLinkMapsCodeCollision(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO affiliate_links`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "affiliate_links_code_key"})

	err := repo.CreateLink(context.Background(), &Link{
		ID: uuid.New(), PromoterID: uuid.New(), ProductID: "sku-1", Code: "ABCD1234",
		CommissionRate: decimal.NewFromInt(10), IsActive: true, CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, errCodeTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLinkOtherUniqueViolationIsNotACollision(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO affiliate_links`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "affiliate_links_pkey"})

	err := repo.CreateLink(context.Background(), &Link{ID: uuid.New(), Code: "ABCD1234"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errCodeTaken)
}

func TestGetLinkByCodeNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .* FROM affiliate_links WHERE code = \$1`).
		WithArgs("MISSING1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetLinkByCode(context.Background(), "MISSING1")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestLatestClickWithoutEvidenceReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)
	linkID := uuid.New()
	from, to := time.Now().Add(-time.Hour), time.Now()

	mock.ExpectQuery(`FROM click_events WHERE link_id = \$1 AND fingerprint_hash = \$2`).
		WithArgs(linkID, "fp", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "link_id", "fingerprint_hash", "ip_address", "user_agent", "clicked_at"}))

	click, err := repo.LatestClick(context.Background(), linkID, "fp", from, to)
	require.NoError(t, err)
	assert.Nil(t, click)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestClickScansRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	linkID, clickID := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM click_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "link_id", "fingerprint_hash", "ip_address", "user_agent", "clicked_at"}).
			AddRow(clickID.String(), linkID.String(), "fp", "192.0.2.1", "curl", at))

	click, err := repo.LatestClick(context.Background(), linkID, "fp", at.Add(-time.Hour), at)
	require.NoError(t, err)
	require.NotNil(t, click)
	assert.Equal(t, clickID, click.ID)
	assert.Equal(t, at, click.ClickedAt)
}
