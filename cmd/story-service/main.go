package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glimmerlabs/glimmer/internal/api"
	apimw "github.com/glimmerlabs/glimmer/internal/api/middleware"
	"github.com/glimmerlabs/glimmer/internal/config"
	"github.com/glimmerlabs/glimmer/internal/factory"
	"github.com/glimmerlabs/glimmer/internal/feed"
	"github.com/glimmerlabs/glimmer/internal/ledger"
	"github.com/glimmerlabs/glimmer/internal/lifecycle"
	"github.com/glimmerlabs/glimmer/internal/logger"
)

func main() {
	log := logger.New("story-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	st, db, err := factory.NewStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Storage unavailable")
	}
	defer func() { _ = db.Close() }()

	blobs := factory.NewBlobStore(cfg, log)
	resolver := factory.NewResolver(cfg, log)
	coord := lifecycle.New(st, blobs, resolver, cfg.StoryTTL, cfg.ExpiryBucket, log)

	apimw.InitPrometheus()
	limiter := apimw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.CleanupLoop()

	router := api.NewRouter(api.Deps{
		Coordinator: coord,
		Feed:        feed.New(st.Stories()),
		Ledger:      ledger.New(st.Engagement(), log),
		Pinger:      st.(api.StorePinger),
		RateLimiter: limiter,
	})
	server := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
