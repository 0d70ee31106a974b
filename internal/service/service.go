// Package service wires the hub, calculator and event subscriber together
// behind one HTTP server, and owns graceful shutdown.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/hackfest/leaderboard/internal/events"
	"github.com/hackfest/leaderboard/internal/live"
	"github.com/hackfest/leaderboard/internal/metrics"
	"github.com/hackfest/leaderboard/internal/ranking"
	"github.com/hackfest/leaderboard/internal/records"
)

const shutdownTimeout = 10 * time.Second

// Config represents parameters for a leaderboard service instance
type Config struct {

	// Port to listen on
	Port int

	// StoreURL is the base URL of the record store
	StoreURL string

	// StoreToken is the bearer token for the record store and event source
	StoreToken string

	// StoreProject scopes queries and subscriptions to one project
	StoreProject string

	// EventsURL is the base URL of the event source; StoreURL if empty
	EventsURL string

	// CacheTTL is the leaderboard cache lifetime (ranking.DefaultTTL if zero)
	CacheTTL time.Duration

	// Retry controls the event stream reconnect delay; fixed 5s if zero
	Retry events.RetryConfig

	// Profile enables the pprof routes
	Profile bool
}

// Run starts the leaderboard service and blocks until closed is closed,
// then shuts down the subscriber, the HTTP server and the hub, in that
// order, before calling parentwg.Done().
func Run(closed <-chan struct{}, parentwg *sync.WaitGroup, config Config) {

	hub := live.New()
	go hub.Run()

	store := records.New(records.Config{
		BaseURL: config.StoreURL,
		Project: config.StoreProject,
		Token:   config.StoreToken,
	})

	calculator := ranking.New(store, config.CacheTTL)

	eventsURL := config.EventsURL
	if eventsURL == "" {
		eventsURL = config.StoreURL
	}

	subscriberConfig := events.NewDefaultConfig()
	subscriberConfig.BaseURL = eventsURL
	subscriberConfig.Project = config.StoreProject
	subscriberConfig.Token = config.StoreToken
	if config.Retry.Min > 0 {
		subscriberConfig.Retry = config.Retry
	}

	subscriber := events.New(subscriberConfig, calculator, hub)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Subscribe(ctx); err != nil && ctx.Err() == nil {
			log.WithField("error", err).Error("event subscriber stopped")
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router(hub, calculator, config),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("port", config.Port).Info("leaderboard service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Error("http server stopped")
		}
	}()

	<-closed

	log.Info("shutting down")

	// stop consuming events before tearing the rest down
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Error("http server shutdown")
	}

	hub.Shutdown()
	calculator.Close()

	wg.Wait()
	parentwg.Done()

	log.Info("stopped")
}

// router assembles the HTTP surface: the websocket upgrade endpoint, the
// pull and diagnostics API, health, metrics, and optionally pprof.
func router(hub *live.Hub, calculator *ranking.Calculator, config Config) *mux.Router {

	r := mux.NewRouter()

	r.HandleFunc("/ws/competitions/{competition_id}", func(w http.ResponseWriter, req *http.Request) {
		live.ServeWS(hub, calculator, w, req)
	})

	r.HandleFunc("/health", handleHealth).Methods("GET")

	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/competitions/{competition_id}/leaderboard", handleLeaderboard(calculator)).Methods("GET")

	r.HandleFunc("/api/v1/status", handleStatus(hub)).Methods("GET")

	if config.Profile {
		r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"leaderboard"}`))
}

// handleLeaderboard serves the pull path for clients that want the current
// state without waiting for the next broadcast
func handleLeaderboard(calculator *ranking.Calculator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		competition := mux.Vars(r)["competition_id"]

		rankings, err := calculator.CalculateLeaderboard(r.Context(), competition)
		if err != nil {
			log.WithFields(log.Fields{"competition": competition, "error": err}).Error("leaderboard read failed")
			http.Error(w, `{"error":"leaderboard unavailable"}`, http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(struct {
			CompetitionID string          `json:"competition_id"`
			Rankings      []ranking.Entry `json:"rankings"`
			Timestamp     string          `json:"timestamp"`
		}{
			CompetitionID: competition,
			Rankings:      rankings,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			log.WithField("error", err).Error("encoding leaderboard response")
		}
	}
}

// handleStatus reports client counts and hub broadcast statistics
func handleStatus(hub *live.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.GetStats()); err != nil {
			log.WithField("error", err).Error("encoding status response")
		}
	}
}
