package debrid

// TorrentItem is the lightweight listing entry returned by the provider
type TorrentItem struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Files    int    `json:"files"`
	Added    string `json:"added"`
	Status   string `json:"status"`
}

// TorrentFile represents a file within a torrent
type TorrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

// TorrentInfo represents detailed information about a torrent
type TorrentInfo struct {
	ID               string        `json:"id"`
	Filename         string        `json:"filename"`
	OriginalFilename string        `json:"original_filename,omitempty"`
	Hash             string        `json:"hash"`
	Bytes            int64         `json:"bytes"`
	Host             string        `json:"host"`
	Split            int           `json:"split"`
	Progress         float64       `json:"progress"`
	Status           string        `json:"status"`
	Added            string        `json:"added"`
	Files            []TorrentFile `json:"files"`
	Links            []string      `json:"links"`
	Ended            string        `json:"ended,omitempty"`
	Speed            int64         `json:"speed,omitempty"`
	Seeders          int           `json:"seeders,omitempty"`
}

// SelectedFileCount returns the number of files flagged as selected
func (t *TorrentInfo) SelectedFileCount() int {
	n := 0
	for i := range t.Files {
		if t.Files[i].Selected == 1 {
			n++
		}
	}
	return n
}

// DownloadLink represents an unrestricted download link
type DownloadLink struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Host     string `json:"host"`
	Chunks   int    `json:"chunks"`
	Download string `json:"download"`
	Stream   string `json:"stream"`
}

// AddMagnetResult is the response of a magnet submission
type AddMagnetResult struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// UserInfo represents provider account information
type UserInfo struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Points     int    `json:"points"`
	Type       string `json:"type"`
	Expiration string `json:"expiration"`
}

// Torrent status strings used by the provider
const (
	StatusDownloaded           = "downloaded"
	StatusDownloading          = "downloading"
	StatusQueued               = "queued"
	StatusMagnetError          = "magnet_error"
	StatusWaitingFileSelection = "waiting_files_selection"
	StatusError                = "error"
	StatusDead                 = "dead"
	StatusVirus                = "virus"
)

// IsTransientStatus reports whether a torrent is still being processed by the
// provider and should not be classified yet.
func IsTransientStatus(status string) bool {
	switch status {
	case StatusDownloading, StatusQueued, StatusMagnetError, StatusWaitingFileSelection:
		return true
	}
	return false
}
