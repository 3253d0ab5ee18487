package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/pkg/keylock"
	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
	"github.com/uzmarket/marketplace-core/internal/pkg/retry"
)

// Config holds loyalty tunables.
type Config struct {
	BasePoints      int64
	DefaultTimezone string
	MinorUnits      int32
	Retry           retry.Policy
}

// Service runs daily claims and point redemption. Writes for one user are
// serialized in-process and guarded by a version check across processes.
type Service struct {
	repo     Repository
	schedule *Schedule
	cfg      Config
	defLoc   *time.Location
	locks    *keylock.Locker
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocker shares a key lock between services.
func WithLocker(l *keylock.Locker) Option {
	return func(s *Service) { s.locks = l }
}

func NewService(repo Repository, schedule *Schedule, cfg Config, opts ...Option) (*Service, error) {
	if cfg.BasePoints <= 0 {
		cfg.BasePoints = 10
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimezone, cfg.DefaultTimezone)
	}
	s := &Service{
		repo:     repo,
		schedule: schedule,
		cfg:      cfg,
		defLoc:   loc,
		locks:    keylock.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule returns the tier table in use.
func (s *Service) Schedule() *Schedule {
	return s.schedule
}

func (s *Service) lock(userID uuid.UUID) func() {
	return s.locks.Lock("loyalty:" + userID.String())
}

// account loads the user's account or a blank one that has never been stored.
func (s *Service) account(ctx context.Context, userID uuid.UUID) (*Account, error) {
	acc, err := s.repo.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return &Account{UserID: userID, Timezone: s.cfg.DefaultTimezone}, nil
	}
	return acc, err
}

func (s *Service) location(tz string) *time.Location {
	if tz == "" {
		return s.defLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return s.defLoc
	}
	return loc
}

// days returns today and yesterday in the account's timezone.
func (s *Service) days(acc *Account) (today, yesterday string) {
	local := s.now().In(s.location(acc.Timezone))
	return local.Format(dateLayout), local.AddDate(0, 0, -1).Format(dateLayout)
}

// effectiveStreak is the streak still alive today; a missed day breaks it.
func effectiveStreak(acc *Account, today, yesterday string) int {
	if acc.LastClaimDate == today || acc.LastClaimDate == yesterday {
		return acc.StreakDays
	}
	return 0
}

// ClaimDaily awards the daily points once per calendar day.
func (s *Service) ClaimDaily(ctx context.Context, userID uuid.UUID) (*ClaimResult, error) {
	unlock := s.lock(userID)
	defer unlock()

	return retry.Do(ctx, s.cfg.Retry, "loyalty.claim_daily", func(ctx context.Context) (*ClaimResult, error) {
		return s.claimOnce(ctx, userID)
	})
}

func (s *Service) claimOnce(ctx context.Context, userID uuid.UUID) (*ClaimResult, error) {
	acc, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}

	today, yesterday := s.days(acc)
	// a later date can appear after a timezone change; it still counts as claimed
	if acc.LastClaimDate != "" && acc.LastClaimDate >= today {
		return nil, ErrAlreadyClaimedToday
	}

	streak := 1
	if acc.LastClaimDate == yesterday {
		streak = acc.StreakDays + 1
	}
	tier := s.schedule.TierFor(streak)
	award := s.schedule.Award(s.cfg.BasePoints, streak)

	next := *acc
	next.Points += award
	next.TotalEarned += award
	next.StreakDays = streak
	next.LastClaimDate = today
	if err := s.repo.SaveClaim(ctx, &next, award); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Int("streak", streak).
		Int64("points_awarded", award).
		Msg("daily reward claimed")
	return &ClaimResult{
		PointsAwarded: award,
		NewStreak:     streak,
		Points:        next.Points,
		Multiplier:    tier.Multiplier,
		Badge:         tier.Badge,
		ClaimDate:     today,
	}, nil
}

// Info summarizes the account without changing it.
func (s *Service) Info(ctx context.Context, userID uuid.UUID) (*Info, error) {
	acc, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	today, yesterday := s.days(acc)
	streak := effectiveStreak(acc, today, yesterday)
	tier := s.schedule.TierFor(streak)

	return &Info{
		Points:        acc.Points,
		TotalEarned:   acc.TotalEarned,
		Streak:        streak,
		Multiplier:    tier.Multiplier,
		Badge:         tier.Badge,
		CanClaimToday: acc.LastClaimDate == "" || acc.LastClaimDate < today,
		Timezone:      acc.Timezone,
		NextBonus:     s.schedule.NextStreakBonus(streak),
	}, nil
}

// NextStreakBonus is the pure tier query used for display.
func (s *Service) NextStreakBonus(streak int) StreakBonus {
	return s.schedule.NextStreakBonus(streak)
}

// SetTimezone changes the zone calendar days are counted in.
func (s *Service) SetTimezone(ctx context.Context, userID uuid.UUID, tz string) (*Account, error) {
	tz = strings.TrimSpace(tz)
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	unlock := s.lock(userID)
	defer unlock()
	return s.repo.SetTimezone(ctx, userID, tz)
}

func validateRedeem(points int64, orderAmount decimal.Decimal) error {
	if points <= 0 {
		return ErrInvalidPoints
	}
	if !orderAmount.IsPositive() {
		return ErrInvalidOrderAmount
	}
	return nil
}

// Quote prices a redemption against the current balance.
func (s *Service) Quote(ctx context.Context, userID uuid.UUID, points int64, orderAmount decimal.Decimal) (*Quote, error) {
	if err := validateRedeem(points, orderAmount); err != nil {
		return nil, err
	}
	acc, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if points > acc.Points {
		return nil, ErrInsufficientPoints
	}
	q := ComputeQuote(points, orderAmount, s.cfg.MinorUnits)
	return &q, nil
}

// Redeem debits points for an order once. Repeating it with the same arguments
// returns the stored redemption.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, orderID string, points int64, orderAmount decimal.Decimal) (*Redemption, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	if err := validateRedeem(points, orderAmount); err != nil {
		return nil, err
	}

	unlock := s.lock(userID)
	defer unlock()

	return retry.Do(ctx, s.cfg.Retry, "loyalty.redeem", func(ctx context.Context) (*Redemption, error) {
		return s.redeemOnce(ctx, userID, orderID, points, orderAmount)
	})
}

func (s *Service) redeemOnce(ctx context.Context, userID uuid.UUID, orderID string, points int64, orderAmount decimal.Decimal) (*Redemption, error) {
	existing, err := s.repo.GetRedemption(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.matches(points, orderAmount) {
			return nil, ErrRedemptionConflict
		}
		existing.Replayed = true
		return existing, nil
	}

	acc, err := s.repo.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInsufficientPoints
	}
	if err != nil {
		return nil, err
	}
	if points > acc.Points {
		return nil, ErrInsufficientPoints
	}

	q := ComputeQuote(points, orderAmount, s.cfg.MinorUnits)
	red := &Redemption{
		ID:                 uuid.New(),
		UserID:             userID,
		OrderID:            orderID,
		PointsRequested:    points,
		PointsUsed:         q.PointsUsed,
		OrderAmount:        orderAmount,
		DiscountAmount:     q.DiscountAmount,
		DiscountPercentage: q.DiscountPercentage,
		CreatedAt:          s.now().UTC(),
	}

	next := *acc
	next.Points -= q.PointsUsed
	if err := s.repo.SaveRedemption(ctx, &next, red); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Str("order_id", orderID).
		Int64("points_used", red.PointsUsed).
		Str("discount", red.DiscountAmount.String()).
		Msg("points redeemed")
	return red, nil
}
