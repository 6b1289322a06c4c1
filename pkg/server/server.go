package server

import (
	"fmt"
	"net/http"

	"debridhub/pkg/api"
	"debridhub/pkg/auth"
	"debridhub/pkg/logger"
)

// New builds the HTTP handler: API routes wrapped in the JWT middleware.
func New(h *api.Handler, authenticator *auth.Authenticator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/login", authenticator.HandleLogin)
	mux.HandleFunc("/api/auth/check", authenticator.HandleAuthCheck)

	mux.HandleFunc("/api/torrents/stats", h.HandleTorrentStats)
	mux.HandleFunc("/api/torrents", h.HandleTorrentList)

	mux.HandleFunc("/api/repair/status", h.HandleRepairStatus)
	mux.HandleFunc("/api/repair/stats", h.HandleRepairStats)
	mux.HandleFunc("/api/repair/queue", h.HandleRepairQueue)
	mux.HandleFunc("/api/repair/queue/delete", h.HandleQueueDelete)
	mux.HandleFunc("/api/repair/start", h.HandleRepairStart)
	mux.HandleFunc("/api/repair/stop", h.HandleRepairStop)
	mux.HandleFunc("/api/repair/torrent", h.HandleRepairTorrent)
	mux.HandleFunc("/api/repair/all", h.HandleRepairAll)
	mux.HandleFunc("/api/repair/delete", h.HandleRepairDelete)

	mux.HandleFunc("/api/settings", h.HandleSettings)

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	return authenticator.Middleware(mux)
}

// ListenAndServe starts the HTTP server on the given address.
func ListenAndServe(addr string, handler http.Handler) error {
	logger.Info("[Server] Listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}
