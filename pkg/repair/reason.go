package repair

import (
	"fmt"
	"strings"

	"debridhub/pkg/debrid"
)

// Reason codes recorded on broken torrents.
const (
	ReasonNoLinks            = "no_links"
	ReasonNoLinksDownloaded  = "no_links_downloaded"
	ReasonErrorStatus        = "error_status"
	ReasonVirusDetected      = "virus_detected"
	ReasonDeadTorrent        = "dead_torrent"
	ReasonCompleteButNoLinks = "complete_but_no_links"
	ReasonNoSelectedButLinks = "no_selected_files_but_has_links"
	ReasonTorrentNotFound    = "torrent_not_found"
)

// LinkMismatchReason embeds both counts for diagnosis.
func LinkMismatchReason(expected, got int) string {
	return fmt.Sprintf("link_mismatch_expected_%d_got_%d", expected, got)
}

// ReinsertFailedReason marks a reinsert that produced fewer files than expected.
func ReinsertFailedReason(missing int) string {
	return fmt.Sprintf("reinsert_failed_%d_files", missing)
}

// UnrestrictFailedReason marks a link that the provider refused to resolve.
func UnrestrictFailedReason(class string) string {
	if class == "" {
		return "unrestrict_failed"
	}
	return "unrestrict_failed_" + class
}

// IsNotCached reports whether a reason marks content fundamentally unavailable
// at the provider. Such records are surfaced but excluded from bulk repair.
func IsNotCached(reason string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(reason, p) {
			return true
		}
	}
	return false
}

// Classify inspects a torrent's provider state and returns a reason code when
// it is broken. The rule order is fixed so identical inputs always produce
// the same code. Torrents still being processed by the provider are healthy
// for classification purposes.
func Classify(info *debrid.TorrentInfo) (string, bool) {
	if info == nil {
		return "", false
	}
	if debrid.IsTransientStatus(info.Status) {
		return "", false
	}

	links := len(info.Links)
	selected := info.SelectedFileCount()

	if links == 0 && info.Status == debrid.StatusDownloaded {
		return ReasonNoLinksDownloaded, true
	}

	// Terminal provider states take precedence over the generic no-links code.
	switch info.Status {
	case debrid.StatusError:
		return ReasonErrorStatus, true
	case debrid.StatusDead:
		return ReasonDeadTorrent, true
	case debrid.StatusVirus:
		return ReasonVirusDetected, true
	}

	if links == 0 {
		if info.Progress >= 100 {
			return ReasonCompleteButNoLinks, true
		}
		return ReasonNoLinks, true
	}

	if selected == 0 {
		return ReasonNoSelectedButLinks, true
	}

	if selected != links {
		return LinkMismatchReason(selected, links), true
	}

	return "", false
}
