package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debridhub/pkg/debrid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetItems(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertItem(debrid.TorrentItem{
		ID: "t1", Filename: "a.mkv", Bytes: 100, Files: 2, Status: "downloaded", Added: "2026-08-01T10:00:00Z",
	}))
	// Upsert again with new status.
	require.NoError(t, s.UpsertItem(debrid.TorrentItem{
		ID: "t1", Filename: "a.mkv", Bytes: 100, Files: 2, Status: "dead", Added: "2026-08-01T10:00:00Z",
	}))

	items, err := s.GetAllItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "dead", items[0].Status)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBulkUpsertItems(t *testing.T) {
	s := newTestStore(t)

	batch := []debrid.TorrentItem{
		{ID: "t1", Filename: "a.mkv", Status: "downloaded"},
		{ID: "t2", Filename: "b.mkv", Status: "downloading"},
		{ID: "t3", Filename: "c.mkv", Status: "downloaded"},
	}
	require.NoError(t, s.BulkUpsertItems(batch))
	require.NoError(t, s.BulkUpsertItems(nil))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpsertInfoUpdatesRow(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertItem(debrid.TorrentItem{ID: "t1", Filename: "a.mkv", Status: "downloading"}))
	require.NoError(t, s.UpsertInfo(&debrid.TorrentInfo{
		ID:     "t1",
		Hash:   "abc123",
		Status: "downloaded",
		Links:  []string{"l1", "l2"},
	}))

	items, err := s.GetAllItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "downloaded", items[0].Status)

	assert.Error(t, s.UpsertInfo(nil))
}

func TestDeleteByIDCascades(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertItem(debrid.TorrentItem{ID: "t1", Filename: "a.mkv", Status: "dead"}))
	require.NoError(t, s.UpsertRepair(RepairRecord{TorrentID: "t1", Status: RepairStatusQueued, Reason: "dead_torrent"}))
	require.NoError(t, s.UpdateRepairState("t1", true, 1, 0))

	require.NoError(t, s.DeleteByID("t1"))

	n, _ := s.Count()
	assert.Equal(t, 0, n)

	rec, err := s.GetRepair("t1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRepairRecordLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertRepair(RepairRecord{
		TorrentID: "t1", Filename: "a.mkv", Hash: "abc", Status: RepairStatusQueued, Reason: "no_links",
	}))

	rec, err := s.GetRepair("t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, RepairStatusQueued, rec.Status)
	assert.Greater(t, rec.UpdatedAt, int64(0))

	require.NoError(t, s.UpdateRepairStatus("t1", RepairStatusRepairing, ""))
	rec, _ = s.GetRepair("t1")
	assert.Equal(t, RepairStatusRepairing, rec.Status)
	assert.Equal(t, "no_links", rec.Reason, "empty reason keeps the old one")

	require.NoError(t, s.UpdateRepairStatus("t1", RepairStatusFailed, "reinsert_failed_2_files"))
	rec, _ = s.GetRepair("t1")
	assert.Equal(t, RepairStatusFailed, rec.Status)
	assert.Equal(t, "reinsert_failed_2_files", rec.Reason)

	require.NoError(t, s.DeleteRepair("t1"))
	rec, err = s.GetRepair("t1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetRepairsPageFilterAndPagination(t *testing.T) {
	s := newTestStore(t)

	seed := []RepairRecord{
		{TorrentID: "t1", Status: RepairStatusFailed, Reason: "no_links"},
		{TorrentID: "t2", Status: RepairStatusFailed, Reason: "no_links_downloaded"},
		{TorrentID: "t3", Status: RepairStatusQueued, Reason: "dead_torrent"},
		{TorrentID: "t4", Status: RepairStatusQueued, Reason: "not_cached"},
		{TorrentID: "t5", Status: RepairStatusQueued, Reason: "not_cached_on_host"},
	}
	for _, rec := range seed {
		require.NoError(t, s.UpsertRepair(rec))
	}

	all, total, err := s.GetRepairsPage("", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	page, total, err := s.GetRepairsPage("", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	rest, _, err := s.GetRepairsPage("", 4, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	filtered, total, err := s.GetRepairsPage("not_cached", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, rec := range filtered {
		assert.Contains(t, rec.Reason, "not_cached")
	}

	filtered, total, err = s.GetRepairsPage("no_links", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total, "prefix filter matches no_links and no_links_downloaded")
	_ = filtered
}

func TestReasonHistogram(t *testing.T) {
	s := newTestStore(t)

	for i, reason := range []string{"no_links", "no_links", "dead_torrent"} {
		require.NoError(t, s.UpsertRepair(RepairRecord{
			TorrentID: string(rune('a' + i)),
			Status:    RepairStatusQueued,
			Reason:    reason,
		}))
	}

	hist, err := s.GetReasonHistogram()
	require.NoError(t, err)
	assert.Equal(t, 2, hist["no_links"])
	assert.Equal(t, 1, hist["dead_torrent"])

	n, err := s.GetRepairCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResetInFlightRepairs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertRepair(RepairRecord{TorrentID: "t1", Status: RepairStatusRepairing, Reason: "no_links"}))
	require.NoError(t, s.UpsertRepair(RepairRecord{TorrentID: "t2", Status: RepairStatusFixed, Reason: "no_links"}))

	n, err := s.ResetInFlightRepairs()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := s.GetRepair("t1")
	assert.Equal(t, RepairStatusQueued, rec.Status)
	rec, _ = s.GetRepair("t2")
	assert.Equal(t, RepairStatusFixed, rec.Status)
}

func TestGetUncheckedTorrents(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertItem(debrid.TorrentItem{ID: "checked", Filename: "a.mkv", Status: "downloaded"}))
	require.NoError(t, s.UpsertItem(debrid.TorrentItem{ID: "unchecked", Filename: "b.mkv", Status: "downloaded"}))
	require.NoError(t, s.UpdateRepairState("checked", false, 0, 3))

	ids, err := s.GetUncheckedTorrents(3600)
	require.NoError(t, err)
	assert.Equal(t, []string{"unchecked"}, ids)

	// With maxAge 0 everything older than now is due again.
	ids, err = s.GetUncheckedTorrents(-1)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
