package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glimmerlabs/glimmer/internal/config"
	"github.com/glimmerlabs/glimmer/internal/expiry"
	"github.com/glimmerlabs/glimmer/internal/factory"
	"github.com/glimmerlabs/glimmer/internal/lifecycle"
	"github.com/glimmerlabs/glimmer/internal/logger"
)

func main() {
	log := logger.New("expiry-worker")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, db, err := factory.NewStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage open")
	}
	defer func() { _ = db.Close() }()

	blobs := factory.NewBlobStore(cfg, log)
	resolver := factory.NewResolver(cfg, log)
	coord := lifecycle.New(st, blobs, resolver, cfg.StoryTTL, cfg.ExpiryBucket, log)

	w := expiry.NewWorker(st.Tasks(), coord, expiry.Config{
		BatchSize:   cfg.WorkerBatchSize,
		Interval:    cfg.WorkerInterval,
		MaxAttempts: cfg.WorkerMaxAttempts,
	}, log, prometheus.DefaultRegisterer)

	// metrics endpoint on the worker's own port
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := cfg.GetHTTPAddr()
		log.Info().Str("addr", addr).Msg("worker metrics listening")
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("worker exited")
}
