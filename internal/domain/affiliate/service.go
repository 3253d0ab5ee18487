package affiliate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/domain/commission"
	"github.com/uzmarket/marketplace-core/internal/pkg/fingerprint"
	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
	"github.com/uzmarket/marketplace-core/internal/pkg/money"
	"github.com/uzmarket/marketplace-core/internal/pkg/retry"
)

const maxCodeAttempts = 5

// Config holds affiliate tunables.
type Config struct {
	LookbackDays          int
	DedupWindow           time.Duration
	DefaultCommissionRate decimal.Decimal
	MinorUnits            int32
	Retry                 retry.Policy
}

func (c Config) lookback() time.Duration {
	days := c.LookbackDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// Ledger is the part of the commission ledger attribution writes to.
type Ledger interface {
	ForOrder(ctx context.Context, orderID string) ([]*commission.Transaction, error)
	Record(ctx context.Context, entries []*commission.Transaction, charges []commission.BudgetCharge) error
	LinkStats(ctx context.Context, linkIDs []uuid.UUID) (map[uuid.UUID]commission.LinkStats, error)
}

// Service implements link issuing, click tracking and order attribution.
type Service struct {
	repo     Repository
	ledger   Ledger
	hasher   *fingerprint.Hasher
	dedup    ClickDeduper
	fallback ClickDeduper
	cfg      Config
	codes    CodeGenerator
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(s *Service) { s.codes = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDeduper sets the primary click deduper (usually Redis).
func WithDeduper(d ClickDeduper) Option {
	return func(s *Service) { s.dedup = d }
}

func NewService(repo Repository, ledger Ledger, hasher *fingerprint.Hasher, cfg Config, opts ...Option) *Service {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}
	s := &Service{
		repo:     repo,
		ledger:   ledger,
		hasher:   hasher,
		fallback: NewStoreDeduper(repo, cfg.DedupWindow),
		cfg:      cfg,
		codes:    RandomCode,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueLink creates a link with a fresh unique code.
func (s *Service) IssueLink(ctx context.Context, promoterID uuid.UUID, productID string, campaignID *uuid.UUID) (*Link, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, ErrInvalidProduct
	}

	now := s.now().UTC()
	link := &Link{
		PromoterID:     promoterID,
		ProductID:      productID,
		CommissionRate: s.cfg.DefaultCommissionRate,
		IsActive:       true,
		CreatedAt:      now,
	}

	if campaignID != nil {
		campaign, err := s.repo.GetCampaign(ctx, *campaignID)
		if err != nil {
			return nil, err
		}
		if !campaign.OpenAt(now) {
			return nil, ErrCampaignInactive
		}
		link.CampaignID = uuid.NullUUID{UUID: campaign.ID, Valid: true}
		link.CommissionRate = campaign.CommissionRate
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.codes()
		if err != nil {
			return nil, err
		}
		link.ID = uuid.New()
		link.Code = code

		err = s.repo.CreateLink(ctx, link)
		if errors.Is(err, errCodeTaken) {
			logger.FromContext(ctx).Warn().Int("attempt", attempt).Msg("affiliate code collision, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.FromContext(ctx).Info().
			Str("link_id", link.ID.String()).
			Str("promoter_id", promoterID.String()).
			Str("product_id", productID).
			Msg("affiliate link issued")
		return link, nil
	}
	return nil, ErrDuplicateCodeExhausted
}

// ResolveLink looks a link up by code.
func (s *Service) ResolveLink(ctx context.Context, code string) (*Link, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrLinkNotFound
	}
	return s.repo.GetLinkByCode(ctx, code)
}

// DeactivateLink switches a link off. Repeating it is a no-op.
func (s *Service) DeactivateLink(ctx context.Context, promoterID, linkID uuid.UUID) (*Link, error) {
	link, err := s.repo.GetLinkByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.PromoterID != promoterID {
		return nil, ErrNotLinkOwner
	}
	if !link.IsActive {
		return link, nil
	}
	return s.repo.DeactivateLink(ctx, linkID, s.now().UTC())
}

// ListLinks returns a promoter's links with conversions and earnings from the ledger.
func (s *Service) ListLinks(ctx context.Context, promoterID uuid.UUID) ([]*LinkView, error) {
	links, err := s.repo.ListLinksByPromoter(ctx, promoterID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(links))
	for i, l := range links {
		ids[i] = l.ID
	}
	stats, err := s.ledger.LinkStats(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*LinkView, len(links))
	for i, l := range links {
		v := &LinkView{Link: l, Earnings: decimal.Zero}
		if st, ok := stats[l.ID]; ok {
			v.Conversions = st.Conversions
			v.Earnings = st.Earnings
		}
		out[i] = v
	}
	return out, nil
}

// CampaignInput describes a new campaign.
type CampaignInput struct {
	Name           string
	CommissionRate decimal.Decimal
	Budget         *decimal.Decimal
	LookbackDays   *int
	StartDate      *time.Time
	EndDate        *time.Time
}

// CreateCampaign validates and stores a campaign. Its rate never changes afterwards.
func (s *Service) CreateCampaign(ctx context.Context, merchantID uuid.UUID, in CampaignInput) (*Campaign, error) {
	if !money.ValidRate(in.CommissionRate) {
		return nil, ErrInvalidRate
	}

	now := s.now().UTC()
	c := &Campaign{
		ID:             uuid.New(),
		MerchantID:     merchantID,
		Name:           strings.TrimSpace(in.Name),
		CommissionRate: in.CommissionRate,
		Spent:          decimal.Zero,
		LookbackDays:   in.LookbackDays,
		StartDate:      now,
		EndDate:        in.EndDate,
		IsActive:       true,
		CreatedAt:      now,
	}
	if in.Budget != nil {
		if !in.Budget.IsPositive() {
			return nil, ErrInvalidBudget
		}
		c.Budget = decimal.NullDecimal{Decimal: *in.Budget, Valid: true}
	}
	if in.StartDate != nil {
		c.StartDate = in.StartDate.UTC()
	}
	if c.EndDate != nil && !c.EndDate.After(c.StartDate) {
		return nil, ErrInvalidDates
	}

	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info().
		Str("campaign_id", c.ID.String()).
		Str("merchant_id", merchantID.String()).
		Str("rate", c.CommissionRate.String()).
		Msg("affiliate campaign created")
	return c, nil
}

// EndCampaign closes a campaign now and deactivates its links. Admins may end any campaign.
func (s *Service) EndCampaign(ctx context.Context, merchantID, campaignID uuid.UUID, isAdmin bool) (*Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && c.MerchantID != merchantID {
		return nil, ErrNotCampaignOwner
	}
	return s.endCampaign(ctx, campaignID)
}

func (s *Service) endCampaign(ctx context.Context, campaignID uuid.UUID) (*Campaign, error) {
	c, deactivated, err := s.repo.EndCampaign(ctx, campaignID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info().
		Str("campaign_id", campaignID.String()).
		Int64("links_deactivated", deactivated).
		Msg("affiliate campaign ended")
	return c, nil
}

// ExpireCampaigns ends every active campaign whose end date has passed.
func (s *Service) ExpireCampaigns(ctx context.Context) (int, error) {
	ids, err := s.repo.ListExpiredCampaigns(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if _, err := s.endCampaign(ctx, id); err != nil {
			return i, fmt.Errorf("expire campaign %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// RecordClick stores a click as attribution evidence. Unknown or inactive codes
// and repeat clicks inside the dedup window are reported, not stored.
func (s *Service) RecordClick(ctx context.Context, in Click) (*ClickResult, error) {
	fp := s.hasher.Hash(in.VisitorFingerprint)
	if fp == "" {
		return nil, ErrFingerprintRequired
	}

	link, err := s.ResolveLink(ctx, in.Code)
	if errors.Is(err, ErrLinkNotFound) {
		return &ClickResult{Outcome: ClickIgnoredUnknownLink}, nil
	}
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return &ClickResult{Outcome: ClickIgnoredInactive}, nil
	}

	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	first, dedup, err := s.firstSeen(ctx, link.ID, fp, at)
	if err != nil {
		return nil, err
	}
	if !first {
		return &ClickResult{Outcome: ClickDuplicate}, nil
	}

	event := &ClickEvent{
		ID:              uuid.New(),
		LinkID:          link.ID,
		FingerprintHash: fp,
		IPAddress:       truncate(in.IPAddress, 64),
		UserAgent:       truncate(in.UserAgent, 512),
		ClickedAt:       at,
	}
	if err := s.repo.InsertClick(ctx, event); err != nil {
		if ferr := dedup.Forget(ctx, link.ID, fp); ferr != nil {
			logger.FromContext(ctx).Warn().Err(ferr).Msg("failed to release click dedup key")
		}
		return nil, err
	}

	// advisory counter; the reconciler repairs misses
	if err := s.repo.IncrementClicks(ctx, link.ID); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("link_id", link.ID.String()).Msg("click counter increment failed")
	}
	return &ClickResult{Outcome: ClickRecorded, Event: event}, nil
}

// firstSeen asks the primary deduper and falls back to the click table when it fails.
func (s *Service) firstSeen(ctx context.Context, linkID uuid.UUID, fp string, at time.Time) (bool, ClickDeduper, error) {
	if s.dedup != nil {
		first, err := s.dedup.FirstSeen(ctx, linkID, fp, at)
		if err == nil {
			return first, s.dedup, nil
		}
		logger.FromContext(ctx).Warn().Err(err).Msg("primary click dedup failed, using click table")
	}
	first, err := s.fallback.FirstSeen(ctx, linkID, fp, at)
	return first, s.fallback, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
