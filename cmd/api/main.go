package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/uzmarket/marketplace-core/internal/config"
	"github.com/uzmarket/marketplace-core/internal/domain/affiliate"
	"github.com/uzmarket/marketplace-core/internal/domain/commission"
	"github.com/uzmarket/marketplace-core/internal/domain/loyalty"
	"github.com/uzmarket/marketplace-core/internal/domain/withdrawal"
	"github.com/uzmarket/marketplace-core/internal/middleware"
	"github.com/uzmarket/marketplace-core/internal/pkg/archive"
	"github.com/uzmarket/marketplace-core/internal/pkg/database"
	"github.com/uzmarket/marketplace-core/internal/pkg/fingerprint"
	"github.com/uzmarket/marketplace-core/internal/pkg/jwt"
	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
	"github.com/uzmarket/marketplace-core/internal/pkg/payout"
	pkgresponse "github.com/uzmarket/marketplace-core/internal/pkg/response"
	"github.com/uzmarket/marketplace-core/internal/pkg/retry"
	"github.com/uzmarket/marketplace-core/internal/pkg/worker"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting marketplace core")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	retryPolicy := retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
	}

	// ---------- Repositories ----------
	affiliateRepo := affiliate.NewRepository(db)
	commissionRepo := commission.NewRepository(db)
	loyaltyRepo := loyalty.NewRepository(db)
	withdrawalRepo := withdrawal.NewRepository(db)

	// ---------- Services ----------
	ledger := commission.NewLedger(commissionRepo)

	affiliateOpts := []affiliate.Option{}
	if redis != nil {
		affiliateOpts = append(affiliateOpts, affiliate.WithDeduper(affiliate.NewRedisDeduper(redis, cfg.AffiliateClickDedupWindow)))
	}
	affiliateService := affiliate.NewService(affiliateRepo, ledger, fingerprint.NewHasher(cfg.AffiliateFingerprintKey), affiliate.Config{
		LookbackDays:          cfg.AffiliateLookbackDays,
		DedupWindow:           cfg.AffiliateClickDedupWindow,
		DefaultCommissionRate: cfg.AffiliateDefaultCommissionRate,
		MinorUnits:            cfg.CurrencyMinorUnits,
		Retry:                 retryPolicy,
	}, affiliateOpts...)

	schedule, err := loyalty.ParseSchedule(cfg.LoyaltyStreakTiers)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid LOYALTY_STREAK_TIERS")
	}
	loyaltyService, err := loyalty.NewService(loyaltyRepo, schedule, loyalty.Config{
		BasePoints:      cfg.LoyaltyBasePoints,
		DefaultTimezone: cfg.LoyaltyDefaultTimezone,
		MinorUnits:      cfg.CurrencyMinorUnits,
		Retry:           retryPolicy,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create loyalty service")
	}

	payoutClient := payout.NewClient(payout.Config{
		BaseURL:    cfg.PayoutBaseURL,
		MerchantID: cfg.PayoutMerchantID,
		SecretKey:  cfg.PayoutSecretKey,
		Timeout:    cfg.PayoutTimeout,
	})
	if !payoutClient.Configured() {
		log.Warn().Msg("Payout rail not configured, approved withdrawals will wait for the payout worker")
	}
	withdrawalService := withdrawal.NewService(withdrawalRepo, ledger, payoutClient, withdrawal.Config{
		Retry:             retryPolicy,
		MaxPayoutAttempts: cfg.WithdrawalMaxPayoutAttempts,
		ReservationGrace:  cfg.WithdrawalReservationGrace,
	})

	// ---------- Workers ----------
	workers := []*worker.Periodic{
		affiliate.NewClickReconciler(affiliateRepo, cfg.WorkerReconcileInterval),
		affiliate.NewCampaignExpirer(affiliateService, cfg.WorkerCampaignInterval),
		withdrawal.NewPayoutWorker(withdrawalService, cfg.WorkerPayoutInterval),
	}
	if cfg.ArchiveEnabled() {
		store, err := archive.New(context.Background(), archive.Config{
			Endpoint:        cfg.ClickArchiveEndpoint,
			Region:          cfg.ClickArchiveRegion,
			AccessKeyID:     cfg.ClickArchiveAccessKey,
			AccessKeySecret: cfg.ClickArchiveSecretKey,
			Bucket:          cfg.ClickArchiveBucket,
			Prefix:          cfg.ClickArchivePrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create click archive store")
		}
		archiver := affiliate.NewClickArchiver(affiliateRepo, store, cfg.AffiliateLookbackDays, cfg.ClickArchiveGraceDays)
		workers = append(workers, archiver.Worker(cfg.WorkerArchiveInterval))
	} else {
		log.Warn().Msg("Click archive bucket not configured, archival disabled")
	}
	for _, w := range workers {
		w.Start()
	}

	// ---------- HTTP ----------
	limiter := middleware.NewIPRateLimiter(cfg.TrackRateLimitRPS, cfg.TrackRateLimitBurst)
	defer limiter.Stop()

	r := newRouter(routerDeps{
		db:             db,
		jwtService:     jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		origins:        cfg.AllowedOrigins,
		trustProxy:     cfg.TrustProxyHeaders,
		serviceToken:   cfg.InternalServiceToken,
		trackLimit:     limiter.Middleware,
		affiliate:      affiliate.NewHandler(affiliateService),
		commission:     commission.NewHandler(ledger),
		loyalty:        loyalty.NewHandler(loyaltyService),
		withdrawal:     withdrawal.NewHandler(withdrawalService),
		requestTimeout: 20 * time.Second,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	for _, w := range workers {
		w.Stop()
	}

	log.Info().Msg("Server exited properly")
}

type routerDeps struct {
	db             *sqlx.DB
	jwtService     *jwt.Service
	origins        []string
	trustProxy     bool
	serviceToken   string
	trackLimit     func(http.Handler) http.Handler
	affiliate      *affiliate.Handler
	commission     *commission.Handler
	loyalty        *loyalty.Handler
	withdrawal     *withdrawal.Handler
	requestTimeout time.Duration
}

func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if d.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(d.origins))
	r.Use(chimw.Compress(5))
	if d.requestTimeout > 0 {
		r.Use(middleware.Timeout(d.requestTimeout))
	}

	authMiddleware := middleware.Auth(d.jwtService)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if d.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.db.PingContext(ctx); err != nil {
				status = "degraded"
			}
		}
		pkgresponse.OK(w, map[string]string{
			"status":  status,
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/affiliate", d.affiliate.Routes(authMiddleware, d.commission.RegisterPromoterRoutes))
		r.Mount("/track", d.affiliate.TrackRoutes(d.trackLimit))
		r.Mount("/rewards", d.loyalty.Routes(authMiddleware))
		r.Mount("/withdrawals", d.withdrawal.Routes(authMiddleware))
	})

	r.Mount("/internal/orders", d.affiliate.InternalRoutes(middleware.ServiceToken(d.serviceToken)))

	r.Route("/api/admin", func(r chi.Router) {
		r.Mount("/commissions", d.commission.AdminRoutes(authMiddleware))
		r.Mount("/withdrawals", d.withdrawal.AdminRoutes(authMiddleware))
	})

	return r
}
