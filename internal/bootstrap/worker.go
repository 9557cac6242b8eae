package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/notification-fabric/internal/cache"
	"github.com/baechuer/notification-fabric/internal/client"
	"github.com/baechuer/notification-fabric/internal/config"
	"github.com/baechuer/notification-fabric/internal/consumer"
	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/logger"
	"github.com/baechuer/notification-fabric/internal/orchestrator"
	"github.com/baechuer/notification-fabric/internal/provider"
	"github.com/baechuer/notification-fabric/internal/repository/postgres"
	"github.com/baechuer/notification-fabric/internal/webhook"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Run wires and runs one channel worker until SIGINT/SIGTERM. It returns a
// non-nil error when the worker dies abnormally (e.g. broker unreachable);
// main exits non-zero and the supervisor restarts the process.
func Run(channel string) error {
	logger.Init()
	log := logger.WithComponent(channel + "_worker")

	cfg, err := config.Load(channel)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	var prov provider.Provider
	ch := domain.Channel(channel)
	if ch == domain.ChannelPush {
		prov, err = provider.NewPushProvider(cfg)
	} else {
		prov, err = provider.NewEmailProvider(cfg)
	}
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	repo := postgres.New(pool)
	users := client.NewUserClient(cfg.UserServiceURL, cfg.HTTPTimeout)
	templates := client.NewTemplateClient(cfg.TemplateServiceURL, cfg.HTTPTimeout)
	gateway := client.NewGatewayClient(cfg.GatewayURL, cfg.HTTPTimeout)
	prefCache := cache.New(rdb, cfg.CacheTTL)

	orch := orchestrator.New(cfg, ch, orchestrator.Deps{
		Repo:     repo,
		Prefs:    users,
		Cache:    prefCache,
		Renderer: templates,
		Reporter: gateway,
		Provider: prov,
	})

	cons := consumer.New(cfg, orch.Handle)
	defer cons.Close()

	reconciler := webhook.NewReconciler(repo, gateway)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: webhook.NewServer(reconciler, pool, rdb).Router(cfg),
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("starting webhook server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("webhook server failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Str("provider", prov.Name()).Str("queue", cfg.Queue).Msg("worker starting")
	runErr := cons.Run(ctx)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("webhook server shutdown failed")
	}

	if runErr != nil {
		return fmt.Errorf("consumer: %w", runErr)
	}
	log.Info().Msg("shutdown complete")
	return nil
}
