// Package main implements the OPNODE backend: stream lifecycle against the
// video platform, the chat feed, and Lightning gift settlement.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opnode-live/opnode/internal/chat"
	"github.com/opnode-live/opnode/internal/config"
	"github.com/opnode-live/opnode/internal/gift"
	"github.com/opnode-live/opnode/internal/httpapi"
	"github.com/opnode-live/opnode/internal/lightning"
	"github.com/opnode-live/opnode/internal/logging"
	"github.com/opnode-live/opnode/internal/payments"
	"github.com/opnode-live/opnode/internal/store"
	"github.com/opnode-live/opnode/internal/stream"
	"github.com/opnode-live/opnode/internal/video"
	"github.com/opnode-live/opnode/internal/walletcrypto"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New("opnode", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	logger.Info(ctx, "starting opnode backend", map[string]any{
		"listen_addr": cfg.ListenAddr,
		"network":     cfg.WalletNetwork,
	})

	// Document store.
	storeClient, err := store.NewClient(store.Config{
		URL:        cfg.StoreURL,
		ServiceKey: cfg.StoreServiceKey,
	})
	if err != nil {
		log.Fatalf("Failed to create store client: %v", err)
	}
	st := store.NewRestStore(storeClient)

	// Realtime channel for invoice fulfillment. Optional: the relay falls
	// back to polling when the connection is unavailable.
	var realtime *store.Realtime
	rt := store.NewRealtime(cfg.StoreURL, cfg.StoreServiceKey)
	if err := rt.Connect(ctx); err != nil {
		logger.Warn(ctx, "realtime unavailable, relay will poll", map[string]any{
			"error": err.Error(),
		})
	} else {
		realtime = rt
		defer rt.Disconnect()
	}

	// Optional redis for the viewer-count cache.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn(ctx, "redis unavailable, viewer cache disabled", map[string]any{
				"error": err.Error(),
			})
			rdb = nil
		}
	}

	// Video platform.
	videoClient := video.NewClient(video.ClientConfig{
		TokenID:     cfg.MuxTokenID,
		TokenSecret: cfg.MuxTokenSecret,
	})
	viewers := video.NewViewerCache(videoClient, rdb, cfg.Tuning.ViewerCacheTTL)

	// Wallet SDK daemon.
	sdk, err := lightning.NewBreezClient(lightning.BreezConfig{
		BaseURL: cfg.WalletAPIURL,
		APIKey:  cfg.WalletAPIKey,
		Network: cfg.WalletNetwork,
	})
	if err != nil {
		log.Fatalf("Failed to create wallet SDK client: %v", err)
	}
	if err := sdk.Connect(ctx); err != nil {
		logger.Warn(ctx, "wallet daemon not connected at startup", map[string]any{
			"error": err.Error(),
		})
	}

	sealer, err := walletcrypto.NewSealer(cfg.WalletEncryptionSecret)
	if err != nil {
		log.Fatalf("Failed to create sealer: %v", err)
	}

	// Metrics registry shared by services and the HTTP layer.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Services.
	chatSvc := chat.NewService(st, logger)
	paySvc := payments.NewService(st, logger)
	streamSvc := stream.NewService(st, videoClient, sealer, logger)
	relay := gift.NewRelay(st, realtime, 30*time.Second, logger)
	giftMetrics := gift.NewMetrics(registry)
	orchestrator := gift.NewOrchestrator(st, sdk, relay, chatSvc, paySvc, giftMetrics, logger)

	reconciler := gift.NewReconciler(st, sdk, giftMetrics, logger, cfg.Tuning.PendingGiftTimeout)
	if err := reconciler.Start(cfg.Tuning.ReconcileInterval); err != nil {
		log.Fatalf("Failed to start reconciler: %v", err)
	}
	defer reconciler.Stop()

	api := httpapi.NewServer(httpapi.Deps{
		Config:   cfg,
		Store:    st,
		Relay:    relay,
		Gifts:    orchestrator,
		Streams:  streamSvc,
		Chat:     chatSvc,
		Payments: paySvc,
		Viewers:  viewers,
		Sealer:   sealer,
		Logger:   logger,
		Registry: registry,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info(ctx, "http server listening", map[string]any{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown error", err, nil)
	}
	if err := sdk.Disconnect(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "wallet disconnect error", map[string]any{"error": err.Error()})
	}

	logger.Info(ctx, "stopped", nil)
}
