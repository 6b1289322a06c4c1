package torrents

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"debridhub/pkg/debrid"
	"debridhub/pkg/logger"
)

// StartRefreshLoop runs the periodic library refresh until ctx is canceled.
// An immediate refresh is attempted first so stats are usable early.
func (m *Manager) StartRefreshLoop(ctx context.Context) {
	go func() {
		if err := m.RefreshNow(ctx); err != nil {
			logger.Warn("[Refresh] Initial refresh failed: %v", err)
		}

		for {
			interval := time.Duration(m.configMgr.GetConfig().RefreshSettings.IntervalSeconds) * time.Second
			select {
			case <-ctx.Done():
				logger.Info("[Refresh] Refresh loop stopped")
				return
			case <-time.After(interval):
				if err := m.RefreshNow(ctx); err != nil {
					logger.Warn("[Refresh] Refresh failed: %v", err)
				}
			}
		}
	}()
}

// RefreshNow performs one full library sync. Overlapping executions are
// prevented; a refresh already in flight makes this call a no-op.
func (m *Manager) RefreshNow(ctx context.Context) error {
	if !m.refreshing.CompareAndSwap(false, true) {
		logger.Debug("[Refresh] Refresh already in progress, skipping")
		return nil
	}
	defer m.refreshing.Store(false)

	items, err := m.client.GetAllTorrents(ctx, 1000)
	if err != nil {
		return fmt.Errorf("failed to list torrents: %w", err)
	}

	fp := fingerprintOf(items)
	m.fingerprintMu.Lock()
	unchanged := m.initialized.Load() && fp == m.fingerprint
	m.fingerprint = fp
	m.fingerprintMu.Unlock()

	m.lastRefresh.Store(time.Now().Unix())

	if unchanged {
		logger.Debug("[Refresh] Library unchanged (%d torrents)", len(items))
		return nil
	}

	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}

	// Reconcile torrents removed at the provider before swapping the listing.
	removed := 0
	for _, id := range m.entries.Keys() {
		if _, ok := known[id]; !ok {
			m.infos.Remove(id)
			if m.db != nil {
				if err := m.db.DeleteByID(id); err != nil {
					logger.Warn("[Refresh] Failed to delete removed torrent %s: %v", id, err)
				}
			}
			removed++
		}
	}

	m.entries.Replace(items)

	if m.db != nil {
		if err := m.db.BulkUpsertItems(items); err != nil {
			logger.Warn("[Refresh] Failed to persist listing: %v", err)
		}
	}

	first := !m.initialized.Swap(true)
	if first {
		logger.Info("[Refresh] Initial library sync complete: %d torrents", len(items))
	} else {
		logger.Info("[Refresh] Library updated: %d torrents (%d removed)", len(items), removed)
	}
	return nil
}

// fingerprintOf computes a cheap change-detection hash over the listing so
// unchanged libraries skip the cache/store rewrite.
func fingerprintOf(items []debrid.TorrentItem) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|", len(items))
	for i := range items {
		fmt.Fprintf(h, "%s:%s:%d|", items[i].ID, items[i].Status, items[i].Bytes)
	}
	return h.Sum64()
}
