package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"splitledger/config"
	"splitledger/database"
	"splitledger/events"
	"splitledger/handlers"
	"splitledger/logger"
	"splitledger/middleware"
	"splitledger/services"
	"splitledger/store"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	lg, err := logger.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()

	// Connect to database and bring the schema up to date
	db, err := database.Connect(cfg)
	if err != nil {
		lg.Fatalw("failed to connect to database", "error", err)
	}
	defer database.Close()

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		lg.Fatalw("failed to run migrations", "error", err)
	}

	// Connect to Redis (optional, won't crash if unavailable)
	rdb := database.ConnectRedis(cfg)

	ledgerStore := store.NewCachedLedgerStore(store.NewGormLedgerStore(db), rdb, cfg.BalanceCacheTTL)
	memberStore := store.NewGormMembershipStore(db)

	publisher := newPublisher(cfg)
	defer publisher.Close()

	notifier := services.NewNotificationService(context.Background(), cfg)
	ledgerSvc := services.NewLedgerService(ledgerStore, memberStore, publisher)
	bg := services.NewBackground(30 * time.Second)
	invites := services.NewInvitationService(db, notifier, bg)

	h := handlers.New(db, cfg, ledgerSvc, memberStore, invites, notifier, bg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.CORSMiddleware())
	h.Routes(r, middleware.AuthRequired(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Infow("server starting", "app", cfg.AppName, "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Errorw("forced shutdown", "error", err)
	}
	if err := bg.Drain(ctx); err != nil {
		lg.Warnw("background tasks abandoned", "error", err)
	}
}

// newPublisher falls back to a no-op publisher when no broker is configured
// or the broker cannot be reached at startup.
func newPublisher(cfg *config.Config) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.NopPublisher{}
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		logger.L().Warnw("ledger events disabled", "error", err)
		return events.NopPublisher{}
	}
	return pub
}
