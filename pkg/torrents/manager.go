package torrents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"debridhub/pkg/config"
	"debridhub/pkg/debrid"
	"debridhub/pkg/logger"
	"debridhub/pkg/store"
)

// FailedFile is the negative-cache record for a file reference that recently
// failed resolution.
type FailedFile struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// Manager owns the torrent caches and the refresh scheduler. All state is
// instance-scoped so tests can construct isolated managers.
type Manager struct {
	client    *debrid.Client
	configMgr *config.Manager
	db        *store.Store

	entries *EntryCache
	infos   *InfoCache

	linkCache   *TTLCache[*debrid.DownloadLink]
	failedFiles *TTLCache[FailedFile]

	unrestrictGroup singleflight.Group
	infoGroup       singleflight.Group

	// onBroken is invoked when a file access reveals a stale/broken link.
	// Wired to the repair detector at startup.
	onBroken func(torrentID, reason string)

	refreshing  atomic.Bool
	initialized atomic.Bool
	lastRefresh atomic.Int64

	fingerprintMu sync.Mutex
	fingerprint   uint64
}

// NewManager builds a manager around the given provider client, config and
// store. Call StartRefreshLoop to begin periodic syncing.
func NewManager(client *debrid.Client, configMgr *config.Manager, db *store.Store) *Manager {
	cfg := configMgr.GetConfig()
	m := &Manager{
		client:      client,
		configMgr:   configMgr,
		db:          db,
		entries:     NewEntryCache(),
		infos:       NewInfoCache(),
		linkCache:   NewTTLCache[*debrid.DownloadLink](time.Duration(cfg.CacheSettings.DownloadLinkTTLMinutes) * time.Minute),
		failedFiles: NewTTLCache[FailedFile](time.Duration(cfg.CacheSettings.FailedFileTTLMinutes) * time.Minute),
	}
	m.loadFromStore()
	return m
}

// SetOnBroken wires the repair detector callback for event-driven detection.
func (m *Manager) SetOnBroken(fn func(torrentID, reason string)) {
	m.onBroken = fn
}

// loadFromStore warms the entry cache from persisted rows so listings work
// before the first provider refresh completes.
func (m *Manager) loadFromStore() {
	if m.db == nil {
		return
	}
	items, err := m.db.GetAllItems()
	if err != nil {
		logger.Warn("[Torrents] Failed to load persisted items: %v", err)
		return
	}
	for _, it := range items {
		m.entries.Put(it.ID, it)
	}
	if len(items) > 0 {
		logger.Info("[Torrents] Warmed entry cache with %d persisted torrents", len(items))
	}
}

// StartJanitors starts the optional TTL sweep goroutines.
func (m *Manager) StartJanitors(ctx context.Context) {
	cfg := m.configMgr.GetConfig()
	interval := time.Duration(cfg.CacheSettings.SweepIntervalMinutes) * time.Minute
	m.linkCache.StartJanitor(ctx, interval)
	m.failedFiles.StartJanitor(ctx, interval)
}

// Entries returns the entry cache.
func (m *Manager) Entries() *EntryCache {
	return m.entries
}

// Infos returns the info cache.
func (m *Manager) Infos() *InfoCache {
	return m.infos
}

// Initialized reports whether the first refresh has completed.
func (m *Manager) Initialized() bool {
	return m.initialized.Load()
}

// GetInfo returns the full torrent detail, fetching from the provider on a
// cache miss. Concurrent misses for the same id are collapsed.
func (m *Manager) GetInfo(ctx context.Context, torrentID string) (*debrid.TorrentInfo, error) {
	if info, ok := m.infos.Get(torrentID); ok {
		return info, nil
	}

	result, err, _ := m.infoGroup.Do(torrentID, func() (interface{}, error) {
		if info, ok := m.infos.Get(torrentID); ok {
			return info, nil
		}
		info, err := m.client.GetTorrentInfo(ctx, torrentID)
		if err != nil {
			return nil, err
		}
		m.infos.Put(torrentID, info)
		if m.db != nil {
			if err := m.db.UpsertInfo(info); err != nil {
				logger.Debug("[Torrents] Failed to persist info for %s: %v", torrentID, err)
			}
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*debrid.TorrentInfo), nil
}

// InvalidateInfo forces the next GetInfo for this torrent to hit the provider.
func (m *Manager) InvalidateInfo(torrentID string) {
	m.infos.InvalidateFiles(torrentID)
}

// RemoveTorrent drops a torrent from every cache and the store.
func (m *Manager) RemoveTorrent(torrentID string) {
	m.entries.Remove(torrentID)
	m.infos.Remove(torrentID)
	if m.db != nil {
		if err := m.db.DeleteByID(torrentID); err != nil {
			logger.Warn("[Torrents] Failed to delete %s from store: %v", torrentID, err)
		}
	}
}

// ResolveFileLink resolves a raw provider link into a download URL, consulting
// the link cache and the failed-file negative cache first. A stale/broken
// link triggers the repair callback and is recorded in the failed-file cache;
// a successful resolution clears any failed-file record for the same link.
func (m *Manager) ResolveFileLink(ctx context.Context, torrentID, link string) (*debrid.DownloadLink, error) {
	if link == "" {
		return nil, fmt.Errorf("empty link reference")
	}

	if dl, ok := m.linkCache.Get(link); ok {
		return dl, nil
	}
	if ff, ok := m.failedFiles.Get(link); ok {
		return nil, fmt.Errorf("link recently failed (%s): %s", ff.Class, ff.Error)
	}

	result, err, _ := m.unrestrictGroup.Do(link, func() (interface{}, error) {
		if dl, ok := m.linkCache.Get(link); ok {
			return dl, nil
		}

		dl, err := m.client.UnrestrictLink(ctx, link)
		if err != nil {
			m.recordFailedLink(torrentID, link, err)
			return nil, err
		}

		m.linkCache.Put(link, dl)
		// A link cache hit and a failed record must never coexist.
		m.failedFiles.Remove(link)
		return dl, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*debrid.DownloadLink), nil
}

func (m *Manager) recordFailedLink(torrentID, link string, err error) {
	class := classifyLinkError(err)
	m.failedFiles.Put(link, FailedFile{Error: err.Error(), Class: class})

	if debrid.IsBrokenLink(err) && m.onBroken != nil {
		reason := "unrestrict_failed"
		if class != "" {
			reason = "unrestrict_failed_" + class
		}
		logger.Warn("[Torrents] Broken link on torrent %s: %s", torrentID, reason)
		m.onBroken(torrentID, reason)
	}
}

func classifyLinkError(err error) string {
	switch {
	case debrid.IsRateLimited(err):
		return "rate_limited"
	case debrid.IsBrokenLink(err):
		return "file_unavailable"
	case debrid.IsTorrentNotFound(err):
		return "not_found"
	case debrid.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// Stats returns the observability snapshot consumed by the stats endpoint.
func (m *Manager) Stats() map[string]interface{} {
	cfg := m.configMgr.GetConfig()
	last := m.lastRefresh.Load()
	var lastRefreshAt string
	if last > 0 {
		lastRefreshAt = time.Unix(last, 0).UTC().Format(time.RFC3339)
	}
	return map[string]interface{}{
		"initialized":             m.initialized.Load(),
		"refresh_interval_seconds": cfg.RefreshSettings.IntervalSeconds,
		"last_refresh":            lastRefreshAt,
		"torrent_count":           m.entries.Len(),
		"info_count":              m.infos.Len(),
		"entry_cache_bytes":       m.entries.MemoryEstimate(),
		"info_cache_bytes":        m.infos.MemoryEstimate(),
		"download_link_cache": map[string]interface{}{
			"size":        m.linkCache.Len(),
			"ttl_minutes": int(m.linkCache.TTL().Minutes()),
		},
		"failed_file_cache": map[string]interface{}{
			"size":        m.failedFiles.Len(),
			"ttl_minutes": int(m.failedFiles.TTL().Minutes()),
		},
	}
}
