package torrents

import (
	cmap "github.com/orcaman/concurrent-map/v2"

	"debridhub/pkg/debrid"
)

// EntryCache holds the lightweight torrent listing, replaced wholesale on
// each refresh cycle.
type EntryCache struct {
	entries cmap.ConcurrentMap[string, debrid.TorrentItem]
}

func NewEntryCache() *EntryCache {
	return &EntryCache{entries: cmap.New[debrid.TorrentItem]()}
}

func (c *EntryCache) Get(id string) (debrid.TorrentItem, bool) {
	return c.entries.Get(id)
}

func (c *EntryCache) Put(id string, item debrid.TorrentItem) {
	c.entries.Set(id, item)
}

func (c *EntryCache) Remove(id string) {
	c.entries.Remove(id)
}

func (c *EntryCache) Len() int {
	return c.entries.Count()
}

// Snapshot returns a copy of all cached entries.
func (c *EntryCache) Snapshot() []debrid.TorrentItem {
	items := make([]debrid.TorrentItem, 0, c.entries.Count())
	for _, it := range c.entries.Items() {
		items = append(items, it)
	}
	return items
}

// Keys returns the set of cached torrent ids.
func (c *EntryCache) Keys() []string {
	return c.entries.Keys()
}

// Replace swaps the cache content for the given listing without ever
// exposing an empty cache to concurrent readers.
func (c *EntryCache) Replace(items []debrid.TorrentItem) {
	fresh := make(map[string]debrid.TorrentItem, len(items))
	for _, it := range items {
		fresh[it.ID] = it
	}
	c.entries.MSet(fresh)
	for _, id := range c.entries.Keys() {
		if _, ok := fresh[id]; !ok {
			c.entries.Remove(id)
		}
	}
}

// MemoryEstimate returns an approximate byte count for the cached entries.
// Observability only.
func (c *EntryCache) MemoryEstimate() int64 {
	var total int64
	for _, it := range c.entries.Items() {
		total += 64 + int64(len(it.ID)+len(it.Filename)+len(it.Added)+len(it.Status))
	}
	return total
}

// InfoCache holds full torrent detail (file list, links), populated lazily
// on first access and invalidated after repair actions.
type InfoCache struct {
	infos cmap.ConcurrentMap[string, *debrid.TorrentInfo]
}

func NewInfoCache() *InfoCache {
	return &InfoCache{infos: cmap.New[*debrid.TorrentInfo]()}
}

func (c *InfoCache) Get(id string) (*debrid.TorrentInfo, bool) {
	return c.infos.Get(id)
}

func (c *InfoCache) Put(id string, info *debrid.TorrentInfo) {
	c.infos.Set(id, info)
}

func (c *InfoCache) Remove(id string) {
	c.infos.Remove(id)
}

func (c *InfoCache) Len() int {
	return c.infos.Count()
}

// InvalidateFiles drops the cached file/link detail for a torrent so the
// next access re-fetches it from the provider.
func (c *InfoCache) InvalidateFiles(id string) {
	c.infos.Remove(id)
}

// Snapshot returns a copy of the cached info values.
func (c *InfoCache) Snapshot() []*debrid.TorrentInfo {
	infos := make([]*debrid.TorrentInfo, 0, c.infos.Count())
	for _, info := range c.infos.Items() {
		infos = append(infos, info)
	}
	return infos
}

// MemoryEstimate returns an approximate byte count for the cached infos.
func (c *InfoCache) MemoryEstimate() int64 {
	var total int64
	for _, info := range c.infos.Items() {
		size := int64(128 + len(info.ID) + len(info.Filename) + len(info.Hash))
		for i := range info.Files {
			size += 48 + int64(len(info.Files[i].Path))
		}
		for _, link := range info.Links {
			size += int64(len(link))
		}
		total += size
	}
	return total
}
