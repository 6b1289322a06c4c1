package torrents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debridhub/pkg/debrid"
)

func TestEntryCacheBasics(t *testing.T) {
	c := NewEntryCache()
	c.Put("t1", debrid.TorrentItem{ID: "t1", Filename: "a.mkv", Bytes: 100})

	item, found := c.Get("t1")
	require.True(t, found)
	assert.Equal(t, "a.mkv", item.Filename)
	assert.Equal(t, 1, c.Len())

	c.Remove("t1")
	_, found = c.Get("t1")
	assert.False(t, found)
}

func TestEntryCacheReplaceReconciles(t *testing.T) {
	c := NewEntryCache()
	c.Put("keep", debrid.TorrentItem{ID: "keep"})
	c.Put("gone", debrid.TorrentItem{ID: "gone"})

	c.Replace([]debrid.TorrentItem{
		{ID: "keep", Filename: "updated.mkv"},
		{ID: "new"},
	})

	assert.Equal(t, 2, c.Len())
	_, found := c.Get("gone")
	assert.False(t, found, "ids absent from the new listing are dropped")

	item, found := c.Get("keep")
	require.True(t, found)
	assert.Equal(t, "updated.mkv", item.Filename)
}

func TestEntryCacheMemoryEstimate(t *testing.T) {
	c := NewEntryCache()
	assert.Equal(t, int64(0), c.MemoryEstimate())

	c.Put("t1", debrid.TorrentItem{ID: "t1", Filename: "some.file.mkv"})
	assert.Greater(t, c.MemoryEstimate(), int64(0))
}

func TestInfoCacheInvalidateFiles(t *testing.T) {
	c := NewInfoCache()
	c.Put("t1", &debrid.TorrentInfo{
		ID:    "t1",
		Files: []debrid.TorrentFile{{ID: 1, Path: "/a.mkv", Selected: 1}},
		Links: []string{"l1"},
	})

	require.Equal(t, 1, c.Len())
	assert.Greater(t, c.MemoryEstimate(), int64(0))

	c.InvalidateFiles("t1")
	_, found := c.Get("t1")
	assert.False(t, found, "next access must re-fetch from the provider")
}
