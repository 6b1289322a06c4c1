package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"debridhub/pkg/config"
	"debridhub/pkg/debrid"
	"debridhub/pkg/logger"
	"debridhub/pkg/repair"
	"debridhub/pkg/store"
	"debridhub/pkg/torrents"
)

// Handler bundles the backend components behind the JSON control surface.
type Handler struct {
	manager   *torrents.Manager
	engine    *repair.Engine
	db        *store.Store
	configMgr *config.Manager
	client    *debrid.Client
}

func NewHandler(manager *torrents.Manager, engine *repair.Engine, db *store.Store, configMgr *config.Manager, client *debrid.Client) *Handler {
	return &Handler{
		manager:   manager,
		engine:    engine,
		db:        db,
		configMgr: configMgr,
		client:    client,
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

// preflight handles CORS and method checking; returns false when the request
// was already answered.
func preflight(w http.ResponseWriter, r *http.Request, method string) bool {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func parsePagination(r *http.Request) (offset, limit int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	return (page - 1) * limit, limit
}

type idsRequest struct {
	IDs                []string `json:"ids"`
	DeleteFromProvider bool     `json:"deleteFromProvider,omitempty"`
}

func decodeIDs(w http.ResponseWriter, r *http.Request) (*idsRequest, bool) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "No torrent ids provided")
		return nil, false
	}
	return &req, true
}
