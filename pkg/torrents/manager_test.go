package torrents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debridhub/pkg/config"
	"debridhub/pkg/debrid"
	"debridhub/pkg/store"
)

func newTestManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	configMgr := config.NewManager(filepath.Join(t.TempDir(), "debrid.yml"))
	client := debrid.NewClient("test-key", baseURL, config.RateLimit{
		RequestsPerMinute: 60000,
		Burst:             1000,
	})
	return NewManager(client, configMgr, nil)
}

func TestResolveFileLinkCachesResult(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/unrestrict/link", r.URL.Path)
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(debrid.DownloadLink{
			ID:       "dl1",
			Filename: "a.mkv",
			Download: "https://host/dl/a.mkv",
		})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	dl, err := m.ResolveFileLink(context.Background(), "t1", "https://real-debrid.com/d/x")
	require.NoError(t, err)
	assert.Equal(t, "https://host/dl/a.mkv", dl.Download)

	_, err = m.ResolveFileLink(context.Background(), "t1", "https://real-debrid.com/d/x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "second resolve must hit the cache")
}

func TestResolveFileLinkNegativeCache(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "unavailable_file", "error_code": 21})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	_, err := m.ResolveFileLink(context.Background(), "t1", "link-a")
	require.Error(t, err)

	_, err = m.ResolveFileLink(context.Background(), "t1", "link-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recently failed")
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "second attempt must short-circuit on the failed-file cache")
}

func TestSuccessClearsFailedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(debrid.DownloadLink{ID: "dl1", Download: "https://host/dl"})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	// Plant an expired failed record so the resolve path proceeds to the
	// provider and must clear it on success.
	link := "link-a"
	m.failedFiles.entries.Set(link, ttlEntry[FailedFile]{
		value:      FailedFile{Error: "unavailable", Class: "file_unavailable"},
		insertedAt: time.Now().Add(-2 * m.failedFiles.TTL()),
	})

	dl, err := m.ResolveFileLink(context.Background(), "t1", link)
	require.NoError(t, err)
	assert.Equal(t, "https://host/dl", dl.Download)

	_, cached := m.linkCache.Get(link)
	assert.True(t, cached)
	assert.Equal(t, 0, m.failedFiles.entries.Count(),
		"a link cache hit and a failed-file record must never coexist")
}

func TestBrokenLinkTriggersRepairCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "hoster_unavailable", "error_code": 19})
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	var mu sync.Mutex
	var gotID, gotReason string
	m.SetOnBroken(func(torrentID, reason string) {
		mu.Lock()
		defer mu.Unlock()
		gotID, gotReason = torrentID, reason
	})

	_, err := m.ResolveFileLink(context.Background(), "t9", "stale-link")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "t9", gotID)
	assert.Equal(t, "unrestrict_failed_file_unavailable", gotReason)
}

func TestRefreshNowReplacesListing(t *testing.T) {
	listing := []debrid.TorrentItem{
		{ID: "t1", Filename: "a.mkv", Status: debrid.StatusDownloaded},
		{ID: "t2", Filename: "b.mkv", Status: debrid.StatusDownloading},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/torrents", r.URL.Path)
		w.Header().Set("X-Total-Count", "2")
		json.NewEncoder(w).Encode(listing)
	}))
	defer srv.Close()

	dir := t.TempDir()
	configMgr := config.NewManager(filepath.Join(dir, "debrid.yml"))
	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer db.Close()

	client := debrid.NewClient("k", srv.URL, config.RateLimit{RequestsPerMinute: 60000, Burst: 1000})
	m := NewManager(client, configMgr, db)

	// A torrent that disappeared from the provider since last run.
	m.entries.Put("stale", debrid.TorrentItem{ID: "stale"})
	m.infos.Put("stale", &debrid.TorrentInfo{ID: "stale"})
	require.NoError(t, db.UpsertItem(debrid.TorrentItem{ID: "stale", Filename: "gone.mkv", Status: "downloaded"}))

	require.False(t, m.Initialized())
	require.NoError(t, m.RefreshNow(context.Background()))

	assert.True(t, m.Initialized())
	assert.Equal(t, 2, m.entries.Len())

	_, found := m.entries.Get("stale")
	assert.False(t, found, "removed torrents are reconciled out of the entry cache")
	_, found = m.infos.Get("stale")
	assert.False(t, found)

	persisted, err := db.GetAllItems()
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	// Unchanged listing: second refresh is a cheap no-op.
	require.NoError(t, m.RefreshNow(context.Background()))
	assert.Equal(t, 2, m.entries.Len())
}

func TestStatsShape(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:0")
	m.entries.Put("t1", debrid.TorrentItem{ID: "t1", Filename: "a.mkv"})

	stats := m.Stats()
	assert.Equal(t, false, stats["initialized"])
	assert.Equal(t, 1, stats["torrent_count"])
	assert.NotNil(t, stats["download_link_cache"])
	assert.NotNil(t, stats["failed_file_cache"])
}
