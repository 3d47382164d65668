package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tilla-pos/api/internal/collab"
	"github.com/tilla-pos/api/internal/database"
	"github.com/tilla-pos/api/internal/events"
	"github.com/tilla-pos/api/internal/modules/audit"
	"github.com/tilla-pos/api/internal/modules/auth"
	"github.com/tilla-pos/api/internal/modules/order"
	"github.com/tilla-pos/api/internal/modules/payment"
	"github.com/tilla-pos/api/internal/modules/staff"
	"github.com/tilla-pos/api/pkg/config"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal("migrate schema", zap.Error(err))
	}

	producer, err := events.NewProducer(cfg.AMQPURL, cfg.EventsExchange, log)
	if err != nil {
		log.Fatal("connect message broker", zap.Error(err))
	}
	defer producer.Close()

	// ── Router ──────────────────────────────────────────────
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// ── Shared infrastructure ───────────────────────────────
	auditRepo := audit.NewPostgresRepository(db)
	tasks := events.NewDispatcher(auditRepo, cfg.DispatchTimeout, log)

	stock := collab.NewQueueStockDepleter(producer)
	ledger := collab.NewQueueLedgerPoster(producer)
	promos := collab.NoopPromotions{}

	// ── Identity ────────────────────────────────────────────
	staffRepo := staff.NewPostgresRepository(db)
	staffService := staff.NewService(staffRepo)
	authService := auth.NewService(staffRepo, cfg.JWTSecret)
	auth.NewHandler(authService).RegisterRoutes(router)

	// ── Settlement core ─────────────────────────────────────
	orderRepo := order.NewPostgresRepository(db)
	paymentRepo := payment.NewPostgresRepository(db)
	providers := payment.NewRegistry(payment.NewSimulator())

	paymentService := payment.NewService(paymentRepo, orderRepo, providers, tasks, auditRepo,
		payment.Policy{
			CardProvider:    cfg.CardProvider,
			ProviderTimeout: cfg.ProviderTimeout,
		}, log)

	orderService := order.NewService(orderRepo, paymentService, promos, stock, ledger,
		producer, tasks, auditRepo,
		order.Policy{
			Currency:            cfg.Currency,
			TaxRateBps:          cfg.TaxRateBps,
			CloseToleranceCents: cfg.CloseToleranceCents,
		}, log)

	// ── Protected routes ────────────────────────────────────
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(cfg.JWTSecret))
		staff.NewHandler(staffService, auth.OrgAndRole).RegisterRoutes(r)
		order.NewHandler(orderService).RegisterRoutes(r)
		payment.NewHandler(paymentService).RegisterRoutes(r)
		audit.NewHandler(auditRepo).RegisterRoutes(r)
	})

	// ── Serve ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("api server listening", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	tasks.Wait()
}
