package api

import (
	"encoding/json"
	"net/http"

	"debridhub/pkg/logger"
)

// HandleSettings serves and updates the provider/repair configuration.
// GET returns the current config plus validation status; POST applies a
// partial update from a JSON map.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		cfg := h.configMgr.GetConfig()
		cfg.APIKey = "" // never echo the key
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"config": cfg,
			"status": h.configMgr.GetConfigStatus(),
		})
	case http.MethodPost:
		var updates map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := h.configMgr.UpdateConfig(updates); err != nil {
			logger.Error("[API] Failed to update config: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to update configuration")
			return
		}
		writeJSON(w, http.StatusOK, h.configMgr.GetConfigStatus())
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
