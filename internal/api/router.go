package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apimw "github.com/glimmerlabs/glimmer/internal/api/middleware"
	"github.com/glimmerlabs/glimmer/internal/api/recovery"
	"github.com/glimmerlabs/glimmer/internal/feed"
	"github.com/glimmerlabs/glimmer/internal/ledger"
	"github.com/glimmerlabs/glimmer/internal/lifecycle"
)

// Deps carries everything the router wires together.
type Deps struct {
	Coordinator *lifecycle.Coordinator
	Feed        *feed.Index
	Ledger      *ledger.Ledger
	Pinger      StorePinger
	RateLimiter *apimw.RateLimiter // optional
}

// NewRouter builds the HTTP route table.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.Use(recovery.Middleware)
	router.Use(apimw.Monitor)
	if d.RateLimiter != nil {
		router.Use(d.RateLimiter.Middleware)
	}

	storyHandler := NewStoryHandler(d.Coordinator, d.Feed, d.Ledger)
	healthHandler := NewHealthHandler(d.Pinger)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/health/db", healthHandler.CheckStorageHealth).Methods("GET")

	router.HandleFunc("/api/stories", storyHandler.CreateStory).Methods("POST")
	router.HandleFunc("/api/feed", storyHandler.GetFeed).Methods("GET")
	router.HandleFunc("/api/stories/{storyId}", storyHandler.GetStory).Methods("GET")
	router.HandleFunc("/api/stories/{storyId}", storyHandler.PurgeStory).Methods("DELETE")
	router.HandleFunc("/api/stories/{storyId}/media", storyHandler.GetMedia).Methods("GET")
	router.HandleFunc("/api/stories/{storyId}/key/{viewerId}", storyHandler.GetWrappedKey).Methods("GET")
	router.HandleFunc("/api/stories/{storyId}/events", storyHandler.RecordEvent).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
