package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"debridhub/pkg/debrid"
)

func makeInfo(status string, progress float64, selected, links int) *debrid.TorrentInfo {
	info := &debrid.TorrentInfo{
		ID:       "t1",
		Status:   status,
		Progress: progress,
	}
	for i := 0; i < selected; i++ {
		info.Files = append(info.Files, debrid.TorrentFile{ID: i + 1, Selected: 1})
	}
	for i := 0; i < links; i++ {
		info.Links = append(info.Links, "https://real-debrid.com/d/x")
	}
	return info
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		info     *debrid.TorrentInfo
		reason   string
		broken   bool
	}{
		{"downloaded without links", makeInfo(debrid.StatusDownloaded, 100, 3, 0), ReasonNoLinksDownloaded, true},
		{"error status", makeInfo(debrid.StatusError, 0, 0, 0), ReasonErrorStatus, true},
		{"dead torrent", makeInfo(debrid.StatusDead, 0, 0, 0), ReasonDeadTorrent, true},
		{"virus detected", makeInfo(debrid.StatusVirus, 0, 0, 0), ReasonVirusDetected, true},
		{"complete but no links", makeInfo("uploading", 100, 2, 0), ReasonCompleteButNoLinks, true},
		{"no links not complete", makeInfo("uploading", 40, 2, 0), ReasonNoLinks, true},
		{"links but nothing selected", makeInfo(debrid.StatusDownloaded, 100, 0, 2), ReasonNoSelectedButLinks, true},
		{"link mismatch", makeInfo(debrid.StatusDownloaded, 100, 3, 1), "link_mismatch_expected_3_got_1", true},
		{"healthy", makeInfo(debrid.StatusDownloaded, 100, 3, 3), "", false},
		{"still downloading", makeInfo(debrid.StatusDownloading, 50, 3, 0), "", false},
		{"queued at provider", makeInfo(debrid.StatusQueued, 0, 0, 0), "", false},
		{"nil info", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, broken := Classify(tt.info)
			assert.Equal(t, tt.broken, broken)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	info := makeInfo(debrid.StatusDownloaded, 100, 5, 2)
	first, _ := Classify(info)
	for i := 0; i < 10; i++ {
		reason, broken := Classify(makeInfo(debrid.StatusDownloaded, 100, 5, 2))
		assert.True(t, broken)
		assert.Equal(t, first, reason, "identical inputs must classify identically")
	}
}

func TestReasonFormatters(t *testing.T) {
	assert.Equal(t, "link_mismatch_expected_3_got_1", LinkMismatchReason(3, 1))
	assert.Equal(t, "reinsert_failed_2_files", ReinsertFailedReason(2))
	assert.Equal(t, "unrestrict_failed", UnrestrictFailedReason(""))
	assert.Equal(t, "unrestrict_failed_file_unavailable", UnrestrictFailedReason("file_unavailable"))
}

func TestIsNotCached(t *testing.T) {
	prefixes := []string{"not_cached"}

	assert.True(t, IsNotCached("not_cached", prefixes))
	assert.True(t, IsNotCached("not_cached_on_host", prefixes))
	assert.False(t, IsNotCached("no_links", prefixes))
	assert.False(t, IsNotCached("not_cached", nil))
	assert.False(t, IsNotCached("anything", []string{""}))
}
