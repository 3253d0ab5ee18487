package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uzmarket/marketplace-core/internal/pkg/worker"
)

const payoutBatch = 50

// NewPayoutWorker retries payouts for approved withdrawals that did not
// complete and frees reservations nothing holds any more.
func NewPayoutWorker(svc *Service, interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("withdrawal-payout", interval, 2*time.Minute, func(ctx context.Context) error {
		n, payErr := svc.RetryPayouts(ctx, payoutBatch)
		if n > 0 {
			log.Info().Int("completed", n).Msg("Retried withdrawal payouts")
		}
		released, sweepErr := svc.ReleaseStranded(ctx, payoutBatch)
		if released > 0 {
			log.Info().Int("released", released).Msg("Released stranded reservations")
		}
		return errors.Join(payErr, sweepErr)
	})
}
