package affiliate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/uzmarket/marketplace-core/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const linkColumns = `id, promoter_id, product_id, campaign_id, code, commission_rate, is_active,
	clicks, archived_clicks, deactivated_at, created_at`

const campaignColumns = `id, merchant_id, name, commission_rate, budget, spent, lookback_days,
	start_date, end_date, ended_at, is_active, created_at`

// Repository stores links, campaigns and clicks.
type Repository interface {
	// Links
	CreateLink(ctx context.Context, link *Link) error
	GetLinkByID(ctx context.Context, id uuid.UUID) (*Link, error)
	GetLinkByCode(ctx context.Context, code string) (*Link, error)
	ListLinksByPromoter(ctx context.Context, promoterID uuid.UUID) ([]*Link, error)
	DeactivateLink(ctx context.Context, id uuid.UUID, at time.Time) (*Link, error)
	IncrementClicks(ctx context.Context, linkID uuid.UUID) error

	// Campaigns
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error)
	EndCampaign(ctx context.Context, id uuid.UUID, at time.Time) (*Campaign, int64, error)
	ListExpiredCampaigns(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	MaxLookbackDays(ctx context.Context) (int, error)

	// Clicks
	InsertClick(ctx context.Context, click *ClickEvent) error
	HasRecentClick(ctx context.Context, linkID uuid.UUID, fingerprintHash string, since time.Time) (bool, error)
	LatestClick(ctx context.Context, linkID uuid.UUID, fingerprintHash string, from, to time.Time) (*ClickEvent, error)
	ListClickDrift(ctx context.Context, limit int) ([]ClickDrift, error)
	RecountClicks(ctx context.Context, linkID uuid.UUID) error
	ClicksBefore(ctx context.Context, before time.Time, limit int) ([]*ClickEvent, error)
	ArchiveClicks(ctx context.Context, ids []uuid.UUID, perLink map[uuid.UUID]int64) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the PostgreSQL affiliate repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Links

func (r *repository) CreateLink(ctx context.Context, link *Link) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO affiliate_links (id, promoter_id, product_id, campaign_id, code, commission_rate, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, link.ID, link.PromoterID, link.ProductID, link.CampaignID, link.Code, link.CommissionRate, link.IsActive, link.CreatedAt)
	if database.IsUniqueViolation(err, "affiliate_links_code_key") {
		return errCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (r *repository) getLink(ctx context.Context, where string, arg interface{}) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var l Link
	err := r.db.GetContext(ctx, &l, `SELECT `+linkColumns+` FROM affiliate_links WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &l, nil
}

func (r *repository) GetLinkByID(ctx context.Context, id uuid.UUID) (*Link, error) {
	return r.getLink(ctx, "id = $1", id)
}

func (r *repository) GetLinkByCode(ctx context.Context, code string) (*Link, error) {
	return r.getLink(ctx, "code = $1", code)
}

func (r *repository) ListLinksByPromoter(ctx context.Context, promoterID uuid.UUID) ([]*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Link
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+linkColumns+`
		FROM affiliate_links
		WHERE promoter_id = $1
		ORDER BY created_at DESC
	`, promoterID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return out, nil
}

func (r *repository) DeactivateLink(ctx context.Context, id uuid.UUID, at time.Time) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var l Link
	err := r.db.GetContext(ctx, &l, `
		UPDATE affiliate_links
		SET is_active = false, deactivated_at = COALESCE(deactivated_at, $2)
		WHERE id = $1
		RETURNING `+linkColumns, id, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deactivate link: %w", err)
	}
	return &l, nil
}

func (r *repository) IncrementClicks(ctx context.Context, linkID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE affiliate_links SET clicks = clicks + 1 WHERE id = $1`, linkID)
	return err
}

// Campaigns

func (r *repository) CreateCampaign(ctx context.Context, c *Campaign) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO affiliate_campaigns (
			id, merchant_id, name, commission_rate, budget, spent, lookback_days,
			start_date, end_date, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10)
	`, c.ID, c.MerchantID, c.Name, c.CommissionRate, c.Budget, c.LookbackDays,
		c.StartDate, c.EndDate, c.IsActive, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *repository) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c Campaign
	err := r.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM affiliate_campaigns WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

// EndCampaign closes the campaign at `at` (keeping an earlier end date) and
// deactivates its links in the same transaction.
func (r *repository) EndCampaign(ctx context.Context, id uuid.UUID, at time.Time) (*Campaign, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c Campaign
	var deactivated int64
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &c, `
			UPDATE affiliate_campaigns
			SET is_active = false,
			    end_date = CASE WHEN end_date IS NULL OR end_date > $2 THEN $2 ELSE end_date END,
			    ended_at = COALESCE(ended_at, $2)
			WHERE id = $1
			RETURNING `+campaignColumns, id, at)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCampaignNotFound
		}
		if err != nil {
			return fmt.Errorf("end campaign: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE affiliate_links
			SET is_active = false, deactivated_at = COALESCE(deactivated_at, $2)
			WHERE campaign_id = $1 AND is_active
		`, id, at)
		if err != nil {
			return fmt.Errorf("deactivate campaign links: %w", err)
		}
		deactivated, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &c, deactivated, nil
}

func (r *repository) ListExpiredCampaigns(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM affiliate_campaigns
		WHERE is_active AND end_date IS NOT NULL AND end_date <= $1
		ORDER BY end_date
		LIMIT 500
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired campaigns: %w", err)
	}
	return ids, nil
}

func (r *repository) MaxLookbackDays(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var days int
	err := r.db.GetContext(ctx, &days, `SELECT COALESCE(MAX(lookback_days), 0) FROM affiliate_campaigns`)
	if err != nil {
		return 0, fmt.Errorf("max lookback: %w", err)
	}
	return days, nil
}

// Clicks

func (r *repository) InsertClick(ctx context.Context, c *ClickEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO click_events (id, link_id, fingerprint_hash, ip_address, user_agent, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.LinkID, c.FingerprintHash, c.IPAddress, c.UserAgent, c.ClickedAt)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

func (r *repository) HasRecentClick(ctx context.Context, linkID uuid.UUID, fingerprintHash string, since time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM click_events
			WHERE link_id = $1 AND fingerprint_hash = $2 AND clicked_at >= $3
		)
	`, linkID, fingerprintHash, since)
	if err != nil {
		return false, fmt.Errorf("check recent click: %w", err)
	}
	return exists, nil
}

// LatestClick returns the newest click in [from, to], or nil when there is none.
func (r *repository) LatestClick(ctx context.Context, linkID uuid.UUID, fingerprintHash string, from, to time.Time) (*ClickEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c ClickEvent
	err := r.db.GetContext(ctx, &c, `
		SELECT id, link_id, fingerprint_hash, ip_address, user_agent, clicked_at
		FROM click_events
		WHERE link_id = $1 AND fingerprint_hash = $2 AND clicked_at >= $3 AND clicked_at <= $4
		ORDER BY clicked_at DESC, id DESC
		LIMIT 1
	`, linkID, fingerprintHash, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest click: %w", err)
	}
	return &c, nil
}

func (r *repository) ListClickDrift(ctx context.Context, limit int) ([]ClickDrift, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out []ClickDrift
	err := r.db.SelectContext(ctx, &out, `
		SELECT l.id AS link_id,
		       l.clicks AS recorded,
		       l.archived_clicks + COALESCE(c.n, 0) AS actual
		FROM affiliate_links l
		LEFT JOIN (
			SELECT link_id, COUNT(*) AS n FROM click_events GROUP BY link_id
		) c ON c.link_id = l.id
		WHERE l.clicks <> l.archived_clicks + COALESCE(c.n, 0)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list click drift: %w", err)
	}
	return out, nil
}

func (r *repository) RecountClicks(ctx context.Context, linkID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE affiliate_links
		SET clicks = archived_clicks + (SELECT COUNT(*) FROM click_events WHERE link_id = $1)
		WHERE id = $1
	`, linkID)
	if err != nil {
		return fmt.Errorf("recount clicks: %w", err)
	}
	return nil
}

func (r *repository) ClicksBefore(ctx context.Context, before time.Time, limit int) ([]*ClickEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out []*ClickEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, link_id, fingerprint_hash, ip_address, user_agent, clicked_at
		FROM click_events
		WHERE clicked_at < $1
		ORDER BY clicked_at, id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list archivable clicks: %w", err)
	}
	return out, nil
}

// ArchiveClicks deletes archived rows and moves their count into archived_clicks
// so the reconciled counter stays stable.
func (r *repository) ArchiveClicks(ctx context.Context, ids []uuid.UUID, perLink map[uuid.UUID]int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		strIDs := make([]string, len(ids))
		for i, id := range ids {
			strIDs[i] = id.String()
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM click_events WHERE id = ANY($1::uuid[])`, pq.Array(strIDs)); err != nil {
			return fmt.Errorf("delete archived clicks: %w", err)
		}
		for linkID, n := range perLink {
			if _, err := tx.ExecContext(ctx, `
				UPDATE affiliate_links SET archived_clicks = archived_clicks + $2 WHERE id = $1
			`, linkID, n); err != nil {
				return fmt.Errorf("bump archived clicks: %w", err)
			}
		}
		return nil
	})
}
