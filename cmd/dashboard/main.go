// Package main runs the dashboard core: it opens the local store,
// starts the sync session and serves the localhost API the dashboard
// UI talks to (status, manual retry, live events over websocket).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dadinugroho/robshop-core/internal/backend"
	"github.com/dadinugroho/robshop-core/internal/dispatch"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/optimistic"
	"github.com/dadinugroho/robshop-core/internal/outbox"
	"github.com/dadinugroho/robshop-core/internal/store"
	"github.com/dadinugroho/robshop-core/internal/syncer"
)

func main() {
	level := logrus.InfoLevel
	if os.Getenv("ROBSHOP_DEBUG") != "" {
		level = logrus.DebugLevel
	}
	logging.Init(os.Stdout, level)

	dataDir := envOr("ROBSHOP_DATA_DIR", "./data")
	apiURL := envOr("ROBSHOP_API_URL", "http://localhost:8000/rest/v1")
	wsURL := envOr("ROBSHOP_WS_URL", "ws://localhost:8000/realtime/v1")
	apiKey := os.Getenv("ROBSHOP_API_KEY")
	port := envOr("ROBSHOP_PORT", "8090")

	s, err := store.Open(dataDir)
	if err != nil {
		logging.Error("Failed to open local store", err, nil)
		os.Exit(1)
	}
	defer s.Close()

	client := backend.NewRESTClient(backend.DefaultRESTConfig(apiURL, apiKey))
	queue := outbox.NewQueue(s)

	hub := newWSHub()
	go hub.run()

	engine := syncer.NewEngine(s, client, queue, syncer.DefaultConfig(), hub.onSyncEvent)
	disp := dispatch.New(queue, client, engine.Reconciler(), dispatch.DefaultConfig())
	session := syncer.NewSession(engine, disp, queue, func() backend.Feed {
		return backend.NewWSFeed(wsURL, apiKey)
	}, syncer.DefaultSessionConfig())
	writer := optimistic.NewWriter(s, queue)

	// Fan committed local writes out to connected UI clients.
	unwatch := s.WatchFunc(hub.onStoreChange)
	defer unwatch()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.Start(ctx)
	defer session.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "service": "robshop-core"})
	})
	mux.HandleFunc("/api/sync/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := session.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, st)
	})
	mux.HandleFunc("/api/sync/retry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n, err := session.RetryFailed()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]int{"reset": n})
	})
	mux.HandleFunc("/api/sync/drain", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		session.RequestDrain()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/ws", hub.serveWS)

	api := &mutationAPI{w: writer, session: session}
	api.register(mux)

	srv := &http.Server{
		Addr:              "localhost:" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.Info("Dashboard core listening", map[string]interface{}{
		"addr": srv.Addr,
	})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("Server stopped", err, nil)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
