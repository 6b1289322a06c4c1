package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"debridhub/pkg/debrid"
)

// Store is a SQLite-backed store for torrent metadata and repair records.
type Store struct {
	db *sql.DB
}

// RepairRecord tracks a torrent that is broken or being repaired
type RepairRecord struct {
	TorrentID string `json:"torrent_id"`
	Filename  string `json:"filename"`
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Reason    string `json:"reason"`
	UpdatedAt int64  `json:"updated_at"`
}

// Repair record lifecycle states
const (
	RepairStatusQueued    = "queued"
	RepairStatusRepairing = "repairing"
	RepairStatusFixed     = "fixed"
	RepairStatusFailed    = "failed"
)

// Open opens/creates the SQLite database at the given path and ensures schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(32)

	_, _ = db.Exec(`PRAGMA synchronous=NORMAL`)
	_, _ = db.Exec(`PRAGMA cache_size=-20000`)
	_, _ = db.Exec(`PRAGMA temp_store=MEMORY`)
	_, _ = db.Exec(`PRAGMA journal_size_limit=67108864`)
	_, _ = db.Exec(`PRAGMA wal_autocheckpoint=1000`)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS torrents (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    files INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    added TEXT,
    hash TEXT,
    modified INTEGER,
    links TEXT,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_torrents_status ON torrents(status);
`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS repair (
    torrent_id TEXT PRIMARY KEY,
    filename   TEXT,
    hash       TEXT,
    status     TEXT,
    progress   INTEGER,
    reason     TEXT,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_repair_reason ON repair(reason);
`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS repair_state (
    torrent_id TEXT PRIMARY KEY,
    last_checked INTEGER NOT NULL,
    is_broken INTEGER NOT NULL DEFAULT 0,
    broken_count INTEGER DEFAULT 0,
    link_count INTEGER DEFAULT 0
)`)

	return err
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, _ = s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = s.db.Exec(`PRAGMA optimize`)
	return s.db.Close()
}

// UpsertItem inserts/updates a lightweight torrent row.
func (s *Store) UpsertItem(it debrid.TorrentItem) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	now := time.Now().Unix()
	_, err := execWithRetry(s.db,
		`INSERT INTO torrents(id, filename, bytes, files, status, added, modified, updated_at)
         VALUES(?,?,?,?,?,?,?,?)
         ON CONFLICT(id) DO UPDATE SET
           filename=excluded.filename,
           bytes=excluded.bytes,
           files=excluded.files,
           status=excluded.status,
           added=excluded.added,
           modified=COALESCE(torrents.modified, excluded.modified),
           updated_at=excluded.updated_at`,
		it.ID, it.Filename, it.Bytes, it.Files, it.Status, it.Added, parseUnixOr(it.Added), now,
	)
	return err
}

// BulkUpsertItems writes many torrent rows in a single transaction.
func (s *Store) BulkUpsertItems(items []debrid.TorrentItem) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
        INSERT INTO torrents(id, filename, bytes, files, status, added, modified, updated_at)
        VALUES(?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
          filename=excluded.filename,
          bytes=excluded.bytes,
          files=excluded.files,
          status=excluded.status,
          added=excluded.added,
          modified=COALESCE(torrents.modified, excluded.modified),
          updated_at=excluded.updated_at
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i := range items {
		it := items[i]
		if _, err := stmt.Exec(it.ID, it.Filename, it.Bytes, it.Files, it.Status, it.Added, parseUnixOr(it.Added), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertInfo records detail fields from a full info fetch onto the torrent row.
func (s *Store) UpsertInfo(info *debrid.TorrentInfo) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	if info == nil || info.ID == "" {
		return errors.New("empty torrent info")
	}
	_, err := execWithRetry(s.db,
		`UPDATE torrents SET hash=?, links=?, status=?, updated_at=? WHERE id=?`,
		info.Hash, strings.Join(info.Links, "\n"), info.Status, time.Now().Unix(), info.ID)
	return err
}

// GetAllItems returns all torrent rows currently in the store.
func (s *Store) GetAllItems() ([]debrid.TorrentItem, error) {
	rows, err := s.db.Query(`SELECT id, filename, bytes, files, status, added FROM torrents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []debrid.TorrentItem
	for rows.Next() {
		var it debrid.TorrentItem
		if err := rows.Scan(&it.ID, &it.Filename, &it.Bytes, &it.Files, &it.Status, &it.Added); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteByID removes one torrent row and any repair row.
func (s *Store) DeleteByID(id string) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	if _, err := execWithRetry(s.db, `DELETE FROM repair WHERE torrent_id=?`, id); err != nil {
		return err
	}
	if _, err := execWithRetry(s.db, `DELETE FROM repair_state WHERE torrent_id=?`, id); err != nil {
		return err
	}
	_, err := execWithRetry(s.db, `DELETE FROM torrents WHERE id=?`, id)
	return err
}

// Count returns the number of torrent rows.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM torrents`).Scan(&n)
	return n, err
}

// UpsertRepair records a broken torrent or updates an existing record.
func (s *Store) UpsertRepair(rec RepairRecord) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	now := time.Now().Unix()
	_, err := execWithRetry(s.db,
		`INSERT INTO repair(torrent_id, filename, hash, status, progress, reason, updated_at)
         VALUES(?,?,?,?,?,?,?)
         ON CONFLICT(torrent_id) DO UPDATE SET
           filename=excluded.filename,
           hash=excluded.hash,
           status=excluded.status,
           progress=excluded.progress,
           reason=excluded.reason,
           updated_at=excluded.updated_at`,
		rec.TorrentID, rec.Filename, rec.Hash, rec.Status, rec.Progress, rec.Reason, now,
	)
	return err
}

// UpdateRepairStatus updates only the lifecycle status (and optionally reason)
// of an existing repair record.
func (s *Store) UpdateRepairStatus(torrentID, status, reason string) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	now := time.Now().Unix()
	if reason != "" {
		_, err := execWithRetry(s.db,
			`UPDATE repair SET status=?, reason=?, updated_at=? WHERE torrent_id=?`,
			status, reason, now, torrentID)
		return err
	}
	_, err := execWithRetry(s.db,
		`UPDATE repair SET status=?, updated_at=? WHERE torrent_id=?`,
		status, now, torrentID)
	return err
}

// DeleteRepair removes a repair record.
func (s *Store) DeleteRepair(id string) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	_, err := execWithRetry(s.db, `DELETE FROM repair WHERE torrent_id=?`, id)
	return err
}

// GetRepair returns the repair record for a torrent, or nil if none exists.
func (s *Store) GetRepair(torrentID string) (*RepairRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var rec RepairRecord
	err := s.db.QueryRow(
		`SELECT torrent_id, filename, COALESCE(hash, ''), status, progress, reason, updated_at
         FROM repair WHERE torrent_id=?`,
		torrentID,
	).Scan(&rec.TorrentID, &rec.Filename, &rec.Hash, &rec.Status, &rec.Progress, &rec.Reason, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAllRepairs returns all repair records, newest first.
func (s *Store) GetAllRepairs() ([]RepairRecord, error) {
	return s.queryRepairs(`SELECT torrent_id, filename, COALESCE(hash, ''), status, progress, reason, updated_at
        FROM repair ORDER BY updated_at DESC`)
}

// GetRepairsPage returns one page of repair records, optionally filtered by
// reason prefix, plus the total count matching the filter.
func (s *Store) GetRepairsPage(reasonPrefix string, offset, limit int) ([]RepairRecord, int, error) {
	if s == nil {
		return nil, 0, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	var rows *sql.Rows
	var err error
	if reasonPrefix != "" {
		pattern := reasonPrefix + "%"
		if err = s.db.QueryRow(`SELECT COUNT(*) FROM repair WHERE reason LIKE ?`, pattern).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = s.db.Query(
			`SELECT torrent_id, filename, COALESCE(hash, ''), status, progress, reason, updated_at
             FROM repair WHERE reason LIKE ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
			pattern, limit, offset)
	} else {
		if err = s.db.QueryRow(`SELECT COUNT(*) FROM repair`).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = s.db.Query(
			`SELECT torrent_id, filename, COALESCE(hash, ''), status, progress, reason, updated_at
             FROM repair ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]RepairRecord, 0, limit)
	for rows.Next() {
		var rec RepairRecord
		if err := rows.Scan(&rec.TorrentID, &rec.Filename, &rec.Hash, &rec.Status, &rec.Progress, &rec.Reason, &rec.UpdatedAt); err != nil {
			return records, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// GetReasonHistogram returns record counts grouped by reason.
func (s *Store) GetReasonHistogram() (map[string]int, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.db.Query(`SELECT reason, COUNT(*) FROM repair GROUP BY reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histogram := make(map[string]int)
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return histogram, err
		}
		histogram[reason] = count
	}
	return histogram, rows.Err()
}

// GetRepairCount returns the total number of repair records.
func (s *Store) GetRepairCount() (int, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM repair`).Scan(&count)
	return count, err
}

// ResetInFlightRepairs demotes stale "repairing" rows back to "queued".
// Called on startup after an unclean shutdown.
func (s *Store) ResetInFlightRepairs() (int, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	res, err := execWithRetry(s.db,
		`UPDATE repair SET status=?, updated_at=? WHERE status=?`,
		RepairStatusQueued, time.Now().Unix(), RepairStatusRepairing)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateRepairState records when a torrent was last health-checked.
func (s *Store) UpdateRepairState(torrentID string, isBroken bool, brokenCount, linkCount int) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	now := time.Now().Unix()
	broken := 0
	if isBroken {
		broken = 1
	}
	_, err := execWithRetry(s.db,
		`INSERT INTO repair_state(torrent_id, last_checked, is_broken, broken_count, link_count)
         VALUES(?,?,?,?,?)
         ON CONFLICT(torrent_id) DO UPDATE SET
           last_checked=excluded.last_checked,
           is_broken=excluded.is_broken,
           broken_count=excluded.broken_count,
           link_count=excluded.link_count`,
		torrentID, now, broken, brokenCount, linkCount)
	return err
}

// GetUncheckedTorrents returns torrent ids not health-checked within maxAge seconds.
func (s *Store) GetUncheckedTorrents(maxAge int64) ([]string, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	cutoff := time.Now().Unix() - maxAge
	rows, err := s.db.Query(`
        SELECT t.id FROM torrents t
        LEFT JOIN repair_state rs ON t.id = rs.torrent_id
        WHERE rs.last_checked IS NULL OR rs.last_checked < ?
        ORDER BY rs.last_checked ASC NULLS FIRST
    `, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryRepairs(query string, args ...any) ([]RepairRecord, error) {
	if s == nil {
		return []RepairRecord{}, errors.New("store not initialized")
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return []RepairRecord{}, err
	}
	defer rows.Close()
	records := make([]RepairRecord, 0)
	for rows.Next() {
		var rec RepairRecord
		if err := rows.Scan(&rec.TorrentID, &rec.Filename, &rec.Hash, &rec.Status, &rec.Progress, &rec.Reason, &rec.UpdatedAt); err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// parseUnixOr converts provider RFC3339 time strings to unix seconds,
// falling back to now when empty or malformed.
func parseUnixOr(value string) int64 {
	if value != "" {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.Unix()
		}
	}
	return time.Now().Unix()
}

// execWithRetry retries transient SQLITE_BUSY/LOCKED errors with small backoff.
func execWithRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	sleep := 5 * time.Millisecond
	for i := 0; i < 8; i++ {
		res, err := db.Exec(query, args...)
		if err == nil {
			return res, nil
		}

		if !isBusyErr(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(sleep)
		sleep *= 2
		if sleep > 250*time.Millisecond {
			sleep = 250 * time.Millisecond
		}
	}
	return nil, lastErr
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_LOCKED")
}
