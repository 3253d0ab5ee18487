package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/domain/commission"
	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
	"github.com/uzmarket/marketplace-core/internal/pkg/keylock"
	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
	"github.com/uzmarket/marketplace-core/internal/pkg/payout"
	"github.com/uzmarket/marketplace-core/internal/pkg/retry"
)

// Ledger is the part of the commission ledger withdrawals draw on.
type Ledger interface {
	Balance(ctx context.Context, promoterID uuid.UUID) (*commission.Balance, error)
	Reserve(ctx context.Context, promoterID, withdrawalID uuid.UUID, max decimal.Decimal) ([]*commission.Transaction, decimal.Decimal, error)
	Release(ctx context.Context, withdrawalID uuid.UUID) error
	MarkWithdrawalPaid(ctx context.Context, withdrawalID uuid.UUID) ([]*commission.Transaction, error)
	StaleReservations(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// PayoutRail moves money to the promoter.
type PayoutRail interface {
	Send(ctx context.Context, req payout.Request) (*payout.Result, error)
}

// Config holds withdrawal tunables.
type Config struct {
	// Retry bounds the payout calls made while settling.
	Retry retry.Policy
	// MaxPayoutAttempts stops the worker from re-driving a withdrawal forever.
	MaxPayoutAttempts int
	// ReservationGrace is how long a reservation may sit untouched before the
	// sweep checks whether its withdrawal still needs it.
	ReservationGrace time.Duration
}

type Service struct {
	repo   Repository
	ledger Ledger
	rail   PayoutRail
	cfg    Config
	locks  *keylock.Locker
}

func NewService(repo Repository, ledger Ledger, rail PayoutRail, cfg Config) *Service {
	if cfg.MaxPayoutAttempts <= 0 {
		cfg.MaxPayoutAttempts = 10
	}
	if cfg.ReservationGrace <= 0 {
		cfg.ReservationGrace = 15 * time.Minute
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		rail:   rail,
		cfg:    cfg,
		locks:  keylock.New(),
	}
}

// Request reserves approved commission for a cash-out. The withdrawn amount is
// the sum of the entries that fit, which may be less than requested.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method Method, accountRef string) (*Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}

	unlock := s.locks.Lock("withdrawal:" + userID.String())
	defer unlock()

	bal, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(bal.Available) {
		return nil, ErrInsufficientBalance
	}

	id := uuid.New()
	picked, total, err := s.ledger.Reserve(ctx, userID, id, amount)
	if err != nil {
		return nil, err
	}
	if len(picked) == 0 {
		return nil, ErrInsufficientBalance
	}

	w := &Withdrawal{
		ID:              id,
		UserID:          userID,
		RequestedAmount: amount,
		Amount:          total,
		Method:          method,
		AccountRef:      accountRef,
		Status:          StatusPending,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		if rerr := s.ledger.Release(ctx, id); rerr != nil {
			logger.FromContext(ctx).Error().Err(rerr).Str("withdrawal_id", id.String()).Msg("failed to release reservation")
		}
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("withdrawal_id", id.String()).
		Str("user_id", userID.String()).
		Str("requested", amount.String()).
		Str("amount", total.String()).
		Int("transactions", len(picked)).
		Msg("withdrawal requested")
	return w, nil
}

// List returns a page of the user's withdrawals.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Withdrawal, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// Settle applies an admin outcome to a pending withdrawal. An approved
// withdrawal whose payout fails is returned with ErrTemporarilyUnavailable and
// stays approved for the payout worker. Rejecting an already rejected
// withdrawal releases its reservation again.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, outcome Outcome, reviewerID uuid.UUID) (*Withdrawal, error) {
	switch outcome {
	case OutcomeRejected:
		w, err := s.repo.Settle(ctx, id, StatusRejected, reviewerID)
		if errors.Is(err, ErrInvalidStateTransition) {
			// Rejecting again re-runs the release.
			cur, gerr := s.repo.GetByID(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			if cur.Status != StatusRejected {
				return nil, err
			}
			w, err = cur, nil
		}
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Release(ctx, id); err != nil {
			return w, fmt.Errorf("release reservation: %w", err)
		}
		logger.FromContext(ctx).Info().Str("withdrawal_id", id.String()).Msg("withdrawal rejected")
		return w, nil

	case OutcomeApproved:
		w, err := s.repo.Settle(ctx, id, StatusApproved, reviewerID)
		if err != nil {
			return nil, err
		}
		return s.pay(ctx, w)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, string(outcome))
}

// pay marks the reserved entries paid and sends the transfer. Both steps are
// safe to repeat for the same withdrawal.
func (s *Service) pay(ctx context.Context, w *Withdrawal) (*Withdrawal, error) {
	log := logger.FromContext(ctx)

	if _, err := s.ledger.MarkWithdrawalPaid(ctx, w.ID); err != nil {
		return w, err
	}

	res, err := retry.Do(ctx, s.cfg.Retry, "withdrawal.payout", func(ctx context.Context) (*payout.Result, error) {
		return s.rail.Send(ctx, payout.Request{
			WithdrawalID: w.ID.String(),
			Amount:       w.Amount,
			Method:       string(w.Method),
			AccountRef:   w.AccountRef,
		})
	})
	if err != nil {
		if ferr := s.repo.RecordFailure(ctx, w.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("withdrawal_id", w.ID.String()).Msg("failed to record payout failure")
		}
		log.Warn().Err(err).Str("withdrawal_id", w.ID.String()).Msg("payout failed, will retry")
		if !errors.Is(err, apperr.ErrTemporarilyUnavailable) {
			err = fmt.Errorf("%w: %v", apperr.ErrTemporarilyUnavailable, err)
		}
		return w, err
	}

	done, err := s.repo.Complete(ctx, w.ID, res.Reference)
	if err != nil {
		return w, err
	}
	log.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("amount", w.Amount.String()).
		Str("reference", res.Reference).
		Msg("withdrawal completed")
	return done, nil
}

// RetryPayouts re-drives approved withdrawals that did not complete.
func (s *Service) RetryPayouts(ctx context.Context, limit int) (int, error) {
	items, err := s.repo.ListUnpaid(ctx, s.cfg.MaxPayoutAttempts, limit)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, w := range items {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if _, err := s.pay(ctx, w); err != nil {
			continue
		}
		completed++
	}
	return completed, nil
}

// ReleaseStranded frees reservations held by withdrawals that were rejected or
// never stored. Pending and approved withdrawals keep theirs.
func (s *Service) ReleaseStranded(ctx context.Context, limit int) (int, error) {
	ids, err := s.ledger.StaleReservations(ctx, time.Now().Add(-s.cfg.ReservationGrace), limit)
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx)
	released := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		w, err := s.repo.GetByID(ctx, id)
		switch {
		case errors.Is(err, ErrWithdrawalNotFound):
		case err != nil:
			log.Error().Err(err).Str("withdrawal_id", id.String()).Msg("failed to load withdrawal for reservation sweep")
			continue
		case w.Status != StatusRejected:
			continue
		}
		if err := s.ledger.Release(ctx, id); err != nil {
			log.Error().Err(err).Str("withdrawal_id", id.String()).Msg("failed to release stranded reservation")
			continue
		}
		released++
	}
	return released, nil
}
