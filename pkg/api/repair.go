package api

import (
	"net/http"

	"debridhub/pkg/logger"
)

// HandleRepairStatus serves the live repair engine counters.
func (h *Handler) HandleRepairStatus(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// HandleRepairStats serves paginated repair records with an optional reason
// prefix filter and a reason histogram.
func (h *Handler) HandleRepairStats(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "Store not available")
		return
	}

	offset, limit := parsePagination(r)
	reason := r.URL.Query().Get("reason")

	records, total, err := h.db.GetRepairsPage(reason, offset, limit)
	if err != nil {
		logger.Error("[API] Failed to load repair records: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load repair records")
		return
	}

	histogram, err := h.db.GetReasonHistogram()
	if err != nil {
		logger.Warn("[API] Failed to compute reason histogram: %v", err)
		histogram = map[string]int{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records":   records,
		"total":     total,
		"histogram": histogram,
	})
}

// HandleRepairQueue serves the queued torrent ids with their FIFO positions.
func (h *Handler) HandleRepairQueue(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}

	entries := h.engine.QueueEntries()
	offset, limit := parsePagination(r)

	total := len(entries)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue": entries[offset:end],
		"total": total,
	})
}

// HandleRepairStart enables the periodic repair scan.
func (h *Handler) HandleRepairStart(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	h.engine.Start()
	writeJSON(w, http.StatusOK, map[string]interface{}{"is_running": true})
}

// HandleRepairStop disables the periodic repair scan. Queued entries are kept.
func (h *Handler) HandleRepairStop(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	h.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{"is_running": false})
}

// HandleRepairTorrent queues manual repairs for specific torrent ids,
// reporting a per-item outcome. Unknown ids are rejected per item.
func (h *Handler) HandleRepairTorrent(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}

	outcomes := h.engine.RepairTorrents(req.IDs)
	queued := 0
	rejected := 0
	for _, outcome := range outcomes {
		if outcome == "queued" {
			queued++
		} else {
			rejected++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"queued":   queued,
		"rejected": rejected,
	})
}

// HandleRepairAll queues every broken torrent except the not-cached family.
func (h *Handler) HandleRepairAll(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}

	queued, skipped, err := h.engine.RepairAll()
	if err != nil {
		logger.Error("[API] Repair-all failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to queue repairs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queued":  queued,
		"skipped": skipped,
	})
}

// HandleRepairDelete removes repair records and optionally the torrents at
// the provider, reporting per-item outcomes.
func (h *Handler) HandleRepairDelete(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}

	outcomes := h.engine.DeleteRepairs(r.Context(), req.IDs, req.DeleteFromProvider)
	deleted := 0
	failed := 0
	for _, outcome := range outcomes {
		if outcome == "deleted" {
			deleted++
		} else {
			failed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"deleted":  deleted,
		"failed":   failed,
	})
}

// HandleQueueDelete removes entries from the repair queue without touching
// their repair records.
func (h *Handler) HandleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}

	removed := h.engine.RemoveFromQueue(req.IDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed":    removed,
		"queue_size": h.engine.Queue().Size(),
	})
}
