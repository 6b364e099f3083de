package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/relaycrm/unibox/internal/api"
	"github.com/relaycrm/unibox/internal/auth"
	"github.com/relaycrm/unibox/internal/config"
	"github.com/relaycrm/unibox/internal/crm"
	"github.com/relaycrm/unibox/internal/inbox"
	"github.com/relaycrm/unibox/internal/models"
	"github.com/relaycrm/unibox/internal/realtime"
	ws "github.com/relaycrm/unibox/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crmClient := crm.NewClient(cfg.CRMBaseURL, cfg.CRMToken)
	rtClient := realtime.NewClient(cfg.RealtimeURL, cfg.CRMToken)
	hub := ws.NewHub(cfg.MaxTabs)

	store := inbox.NewStore(crmClient, rtClient)
	store.SetPageSize(cfg.PageSize)
	defer store.Close()

	// Fan every published snapshot out to connected dashboard tabs.
	store.OnChange(func(snap inbox.Snapshot) {
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("Failed to encode snapshot: %v", err)
			return
		}
		hub.Broadcast(payload)
	})

	rtClient.OnStatusChange(func(status models.ConnectionStatus) {
		store.SetConnectionStatus(status)
		// Catch up once the channel first comes up if the initial fetch never
		// succeeded. Reconnects after that do not refetch; events missed
		// while disconnected are accepted.
		if status == models.StatusConnected && !store.HasLoaded() {
			go func() {
				if err := store.FetchInbox(context.Background(), 0, 0, false); err != nil {
					log.Printf("Catch-up inbox fetch failed: %v", err)
				}
			}()
		}
	})

	go rtClient.Run(ctx)

	if err := store.FetchInbox(ctx, 0, 0, false); err != nil {
		// Not fatal: the store keeps serving its (empty) state and the
		// catch-up fetch retries once the realtime channel connects.
		log.Printf("Initial inbox fetch failed: %v", err)
	}

	server := NewServer(cfg, store, hub)

	address := ":" + cfg.Port
	log.Printf("Unibox backend starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns the HTTP handler for the Unibox API server.
func NewServer(cfg *config.Config, store *inbox.Store, hub *ws.Hub) http.Handler {
	inboxHandler := api.NewInboxHandler(store)
	wsHandler := api.NewWebSocketHandler(store, hub, cfg.APIToken)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/", handleRoot)

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(cfg.APIToken))
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Get("/inbox", inboxHandler.GetInbox)
			r.Post("/inbox/fetch", inboxHandler.FetchInbox)
			r.Post("/inbox/refresh", inboxHandler.RefreshInbox)
			r.Post("/inbox/select", inboxHandler.SelectRecord)
			r.Post("/inbox/record/refresh", inboxHandler.RefreshRecord)
			r.Post("/inbox/read", inboxHandler.MarkAsRead)
		})
		// WebSocket handler handles its own authentication via query
		// parameter (browsers can't set headers on WebSocket connections).
		v1.Get("/inbox/ws", wsHandler.Handle)
	})

	return router
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Unibox API is running")
}
