package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudo-init-do/agenthub/internal/alerts"
	"github.com/sudo-init-do/agenthub/internal/api"
	"github.com/sudo-init-do/agenthub/internal/config"
	"github.com/sudo-init-do/agenthub/internal/ledger"
	"github.com/sudo-init-do/agenthub/internal/matcher"
	"github.com/sudo-init-do/agenthub/internal/payment"
	"github.com/sudo-init-do/agenthub/internal/provider"
	"github.com/sudo-init-do/agenthub/internal/purchase"
	"github.com/sudo-init-do/agenthub/internal/registry"
	"github.com/sudo-init-do/agenthub/internal/session"
	"github.com/sudo-init-do/agenthub/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("load config", zap.Error(err))
	}
	logger, err := config.InitLogger(cfg.Log)
	if err != nil {
		zap.L().Fatal("init logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return eris.New("auth.jwt_secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	reg := registry.New(st, logger)
	if err := reg.Load(ctx); err != nil {
		return err
	}
	m := matcher.New(reg, cfg.Matcher.CacheTTL)

	sessions, closeSessions, err := openSessions(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer closeSessions()

	notifier, err := openAlerts(cfg.Alerts, logger)
	if err != nil {
		return err
	}

	verifier := payment.NewSolanaVerifier(rpc.New(cfg.Solana.RPCURL), payment.SolanaOptions{
		Network:           cfg.Solana.Network,
		Commitment:        cfg.Solana.Commitment,
		RequestsPerSecond: cfg.Solana.RequestsPerSecond,
	}, logger)

	disputes := ledger.NewDisputes(st, logger)
	orch := purchase.New(purchase.Deps{
		Registry: reg,
		Matcher:  m,
		Verifier: verifier,
		Provider: provider.NewClient(cfg.Purchase.ProviderTimeout),
		Sessions: sessions,
		Ledger:   ledger.NewWriter(st, logger),
		Ratings:  ledger.NewRatings(st, reg, logger),
		Disputes: disputes,
		Alerts:   notifier,
		Logger:   logger,
	}, purchase.Options{
		Network:        cfg.Solana.Network,
		Mint:           cfg.Solana.USDCMint,
		MaxRetries:     cfg.Purchase.MaxRetries,
		RetryOnFailure: cfg.Purchase.RetryOnFailure,
		HealthCheck:    cfg.Purchase.HealthCheck,
		SessionTTL:     cfg.Purchase.SessionTTL,
	})

	h := api.NewHandler(api.Deps{
		Purchases: orch,
		Catalog:   reg,
		History:   st,
		Disputes:  disputes,
		Matcher:   m,
		Alerts:    notifier,
		Logger:    logger,
	})
	e := api.NewRouter(h, api.RouterOptions{
		JWTSecret: cfg.Auth.JWTSecret,
		RateLimit: cfg.Server.RateLimit,
		AccessLog: true,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketplace listening",
			zap.String("port", cfg.Server.Port),
			zap.String("network", cfg.Solana.Network),
			zap.String("store", cfg.Store.Driver),
			zap.String("sessions", cfg.Session.Driver))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server error")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openSessions(ctx context.Context, cfg config.SessionConfig) (session.Store, func(), error) {
	if cfg.Driver != "redis" {
		return session.NewMemoryStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, eris.Wrapf(err, "connect redis %s", cfg.RedisAddr)
	}
	return session.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
}

func openAlerts(cfg config.AlertsConfig, logger *zap.Logger) (alerts.Notifier, error) {
	logNotifier := alerts.NewLogNotifier(logger)
	if cfg.Provider != "plunk" {
		return logNotifier, nil
	}
	plunk, err := alerts.NewPlunkNotifier(alerts.PlunkConfig{
		APIKey: cfg.PlunkAPIKey,
		From:   cfg.PlunkFrom,
		APIURL: cfg.PlunkAPIURL,
		To:     cfg.AdminEmail,
	})
	if err != nil {
		return nil, err
	}
	return alerts.Multi{logNotifier, plunk}, nil
}
