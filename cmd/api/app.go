package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/media"
	"github.com/ovaphlow/pitchfork/service-identity/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity/internal/projection"
	projectionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/projection/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/router"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription"
	subscriptionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/subscription/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

func initLogger(cfg config.Config) (*zap.Logger, error) {
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return lg, nil
}

func openDB(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (*sql.DB, error) {
	sqlDB, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	sugar.Infow("database connected", "max_conns", cfg.Database.MaxConns)
	return sqlDB, nil
}

func migrateOnly(ctx context.Context, cfg config.Config) error {
	lg, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	sqlDB, err := openDB(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.Migrate(ctx, sqlDB); err != nil {
		return err
	}
	sugar.Info("migrations applied")
	return nil
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	lg, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	sugar.Info("starting service-identity")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := openDB(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if migrate {
		if err := database.Migrate(ctx, sqlDB); err != nil {
			return err
		}
		sugar.Info("migrations applied")
	}

	handler, err := buildHandler(ctx, cfg, sqlDB, sugar)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
	return nil
}

// buildHandler wires repositories, services and handlers.
func buildHandler(ctx context.Context, cfg config.Config, sqlDB *sql.DB, sugar *zap.SugaredLogger) (http.Handler, error) {
	db := database.Wrap(sqlDB)
	clock := clockwork.NewRealClock()
	fs := afero.NewOsFs()
	reg, m := metrics.NewRegistry()

	accounts := accountrepo.NewAccountRepo(db)
	projections := projectionrepo.NewProjectionRepo(db)
	subscriptions := subscriptionrepo.NewSubscriptionRepo(db)

	store, err := media.NewS3Store(ctx, cfg.Media, fs, clock)
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}
	orch := media.NewOrchestrator(store, accounts, fs, cfg.Media, m, sugar)

	tokens := session.NewTokenService(accounts, cfg.Token, clock, m, sugar)
	hasher := account.BcryptHasher{Cost: cfg.Password.BcryptCost}
	accountSvc := account.NewService(accounts, orch, tokens, hasher, utilities.NewIDGenerator(cfg.SnowflakeNode), cfg.Password.HashTimeout, m, sugar)

	return router.RegisterRoutes(router.Deps{
		Accounts:      account.NewHandler(accountSvc, fs, cfg.Media, cfg.Token, sugar),
		Sessions:      session.NewHandler(tokens, cfg.Token, sugar),
		Projections:   projection.NewHandler(projection.NewService(projections, sugar), sugar),
		Subscriptions: subscription.NewHandler(subscription.NewService(subscriptions, sugar), sugar),
		Workflow:      session.NewWorkflow(tokens, accounts, sugar),
		Metrics:       metrics.Handler(reg),
		Logger:        sugar,
	}), nil
}
