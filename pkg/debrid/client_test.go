package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debridhub/pkg/config"
)

func testClient(baseURL string) *Client {
	return NewClient("test-key", baseURL, config.RateLimit{
		RequestsPerMinute: 60000,
		Burst:             1000,
		MaxRetries:        2,
		BaseBackoffMs:     1,
		MaxBackoffMs:      5,
	})
}

func TestGetTorrentsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/torrents", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		w.Header().Set("X-Total-Count", "120")
		json.NewEncoder(w).Encode([]TorrentItem{
			{ID: "t1", Filename: "a.mkv", Status: StatusDownloaded},
		})
	}))
	defer srv.Close()

	items, total, err := testClient(srv.URL).GetTorrentsPage(context.Background(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, 120, total)
	require.Len(t, items, 1)
	assert.Equal(t, "t1", items[0].ID)
}

func TestGetAllTorrentsPaginates(t *testing.T) {
	pages := [][]TorrentItem{
		{{ID: "t1"}, {ID: "t2"}},
		{{ID: "t2"}, {ID: "t3"}}, // overlap from a shifting list
		{},
	}
	var call int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt64(&call, 1) - 1
		if int(i) >= len(pages) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(pages[i])
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).GetAllTorrents(context.Background(), 2)
	require.NoError(t, err)

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids, "overlapping pages are deduplicated")
}

func TestDecodeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "unavailable_file", "error_code": 21})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetTorrentInfo(context.Background(), "t1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 21, apiErr.Code)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.True(t, IsBrokenLink(err))
	assert.False(t, IsTransient(err))
}

func TestRetryOnServerError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(UserInfo{ID: 1, Username: "u"})
	}))
	defer srv.Close()

	info, err := testClient(srv.URL).GetUserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", info.Username)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestRetryBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetUserInfo(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestAddMagnetAndSelectFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/torrents/addMagnet":
			require.NoError(t, r.ParseForm())
			assert.Contains(t, r.FormValue("magnet"), "magnet:?xt=urn:btih:")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(AddMagnetResult{ID: "new1"})
		case "/torrents/selectFiles/new1":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "1,2,3", r.FormValue("files"))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.AddMagnet(context.Background(), "magnet:?xt=urn:btih:abc&dn=x")
	require.NoError(t, err)
	assert.Equal(t, "new1", res.ID)

	require.NoError(t, c.SelectFiles(context.Background(), "new1", []string{"1", "2", "3"}))
}

func TestUnrestrictLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "raw-link", r.FormValue("link"))
		json.NewEncoder(w).Encode(DownloadLink{ID: "dl", Download: "https://host/file"})
	}))
	defer srv.Close()

	dl, err := testClient(srv.URL).UnrestrictLink(context.Background(), "raw-link")
	require.NoError(t, err)
	assert.Equal(t, "https://host/file", dl.Download)

	_, err = testClient(srv.URL).UnrestrictLink(context.Background(), "")
	assert.Error(t, err)
}

func TestErrorPredicates(t *testing.T) {
	notFound := &APIError{StatusCode: 404, Code: CodeUnknownResource}
	assert.True(t, IsTorrentNotFound(notFound))
	assert.False(t, IsTorrentNotFound(fmt.Errorf("plain")))

	limited := &APIError{StatusCode: 429, Code: CodeTooManyRequests}
	assert.True(t, IsRateLimited(limited))
	assert.True(t, IsTransient(limited))

	broken := &APIError{StatusCode: 403, Code: CodeHosterUnavailable}
	assert.True(t, IsBrokenLink(broken))
	assert.False(t, IsTransient(broken))

	assert.True(t, IsTransient(fmt.Errorf("connection reset")), "network errors are retryable")
	assert.False(t, IsTransient(nil))
}
