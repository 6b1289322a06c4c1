package api

import (
	"net/http"
)

// HandleTorrentStats serves the torrent-manager statistics consumed by the
// dashboard: cache sizes, memory estimates, refresh state.
func (h *Handler) HandleTorrentStats(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}

	stats := h.manager.Stats()

	if h.db != nil {
		if n, err := h.db.Count(); err == nil {
			stats["persisted_count"] = n
		}
		if n, err := h.db.GetRepairCount(); err == nil {
			stats["repair_record_count"] = n
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleTorrentList serves the cached torrent listing with pagination.
func (h *Handler) HandleTorrentList(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}

	items := h.manager.Entries().Snapshot()
	offset, limit := parsePagination(r)

	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"torrents":    items[offset:end],
		"total":       total,
		"initialized": h.manager.Initialized(),
	})
}
