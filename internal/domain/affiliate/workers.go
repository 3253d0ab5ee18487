package affiliate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/uzmarket/marketplace-core/internal/pkg/archive"
	"github.com/uzmarket/marketplace-core/internal/pkg/worker"
)

const (
	driftBatch       = 500
	recountParallel  = 4
	archiveBatch     = 1000
	archiveMaxRounds = 20
)

// ReconcileClicks rewrites advisory click counters that drifted from the click log.
func ReconcileClicks(ctx context.Context, repo Repository) (int, error) {
	drift, err := repo.ListClickDrift(ctx, driftBatch)
	if err != nil {
		return 0, err
	}
	if len(drift) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recountParallel)
	for _, d := range drift {
		g.Go(func() error {
			if err := repo.RecountClicks(gctx, d.LinkID); err != nil {
				return fmt.Errorf("recount link %s: %w", d.LinkID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	log.Info().Int("links", len(drift)).Msg("Reconciled affiliate click counters")
	return len(drift), nil
}

// NewClickReconciler runs ReconcileClicks periodically.
func NewClickReconciler(repo Repository, interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("affiliate-click-reconciler", interval, time.Minute, func(ctx context.Context) error {
		_, err := ReconcileClicks(ctx, repo)
		return err
	})
}

// NewCampaignExpirer ends campaigns past their end date and deactivates their links.
func NewCampaignExpirer(svc *Service, interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("affiliate-campaign-expirer", interval, time.Minute, func(ctx context.Context) error {
		n, err := svc.ExpireCampaigns(ctx)
		if n > 0 {
			log.Info().Int("count", n).Msg("Expired affiliate campaigns")
		}
		return err
	})
}

// ArchiveSink receives archived click batches.
type ArchiveSink interface {
	Put(ctx context.Context, key string, body []byte) error
	Key(kind string, day time.Time) string
}

// ClickArchiver moves clicks that can no longer be credited to object storage.
type ClickArchiver struct {
	repo     Repository
	sink     ArchiveSink
	lookback time.Duration
	grace    time.Duration
	now      func() time.Time
}

func NewClickArchiver(repo Repository, sink ArchiveSink, defaultLookbackDays, graceDays int) *ClickArchiver {
	if graceDays < 0 {
		graceDays = 0
	}
	return &ClickArchiver{
		repo:     repo,
		sink:     sink,
		lookback: Config{LookbackDays: defaultLookbackDays}.lookback(),
		grace:    time.Duration(graceDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// cutoff is older than the longest lookback any campaign uses, plus grace.
func (a *ClickArchiver) cutoff(ctx context.Context) (time.Time, error) {
	longest := a.lookback
	days, err := a.repo.MaxLookbackDays(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if d := time.Duration(days) * 24 * time.Hour; d > longest {
		longest = d
	}
	return a.now().UTC().Add(-(longest + a.grace)), nil
}

// Run archives clicks in batches and returns how many were moved.
func (a *ClickArchiver) Run(ctx context.Context) (int, error) {
	before, err := a.cutoff(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for round := 0; round < archiveMaxRounds; round++ {
		clicks, err := a.repo.ClicksBefore(ctx, before, archiveBatch)
		if err != nil {
			return total, err
		}
		if len(clicks) == 0 {
			break
		}

		body, err := archive.EncodeJSONL(clicks)
		if err != nil {
			return total, err
		}
		if err := a.sink.Put(ctx, a.sink.Key("clicks", clicks[0].ClickedAt), body); err != nil {
			return total, err
		}

		ids := make([]uuid.UUID, len(clicks))
		perLink := make(map[uuid.UUID]int64)
		for i, c := range clicks {
			ids[i] = c.ID
			perLink[c.LinkID]++
		}
		if err := a.repo.ArchiveClicks(ctx, ids, perLink); err != nil {
			return total, err
		}
		total += len(clicks)

		if len(clicks) < archiveBatch {
			break
		}
	}

	if total > 0 {
		log.Info().Int("count", total).Time("before", before).Msg("Archived affiliate clicks")
	}
	return total, nil
}

// Worker wraps Run in a periodic job.
func (a *ClickArchiver) Worker(interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("affiliate-click-archiver", interval, 5*time.Minute, func(ctx context.Context) error {
		_, err := a.Run(ctx)
		return err
	})
}
