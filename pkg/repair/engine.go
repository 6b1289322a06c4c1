package repair

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go"
	cmap "github.com/orcaman/concurrent-map/v2"

	"debridhub/pkg/config"
	"debridhub/pkg/debrid"
	"debridhub/pkg/logger"
	"debridhub/pkg/store"
	"debridhub/pkg/torrents"
)

// Engine drives broken-torrent detection and repair: a periodic scan over the
// library, an event-driven MarkBroken entry point, and a fixed worker pool
// draining the repair queue.
type Engine struct {
	client    *debrid.Client
	configMgr *config.Manager
	db        *store.Store
	manager   *torrents.Manager

	queue  *Queue
	status *Status

	// inFlight gives each torrent id to at most one worker at a time.
	inFlight cmap.ConcurrentMap[string, struct{}]

	running    atomic.Bool
	scanActive atomic.Bool
	shouldStop atomic.Bool

	wake    chan struct{}
	baseCtx context.Context
}

// QueueEntry is the queue listing served to the control surface.
type QueueEntry struct {
	TorrentID string `json:"torrent_id"`
	Position  int    `json:"position"`
	Filename  string `json:"filename,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// reasonError carries a terminal reason code out of a repair attempt.
type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.err)
	}
	return e.reason
}

func (e *reasonError) Unwrap() error { return e.err }

// NewEngine builds the repair engine. Stale in-flight repairs from a previous
// run are demoted back to queued, and persisted queued records are reloaded.
func NewEngine(client *debrid.Client, configMgr *config.Manager, db *store.Store, manager *torrents.Manager) *Engine {
	e := &Engine{
		client:    client,
		configMgr: configMgr,
		db:        db,
		manager:   manager,
		queue:     NewQueue(),
		status:    NewStatus(),
		inFlight:  cmap.New[struct{}](),
		wake:      make(chan struct{}, 1),
	}

	if db != nil {
		if n, err := db.ResetInFlightRepairs(); err != nil {
			logger.Warn("[Repair] Failed to reset stale repairing records: %v", err)
		} else if n > 0 {
			logger.Info("[Repair] Reset %d stale repairing records to queued", n)
		}

		recs, err := db.GetAllRepairs()
		if err != nil {
			logger.Warn("[Repair] Failed to load persisted repair records: %v", err)
		} else {
			cfg := configMgr.GetConfig()
			reloaded := 0
			for _, rec := range recs {
				if rec.Status != store.RepairStatusQueued {
					continue
				}
				if IsNotCached(rec.Reason, cfg.RepairSettings.NotCachedPrefixes) {
					continue
				}
				if e.queue.Enqueue(rec.TorrentID) {
					reloaded++
				}
			}
			if reloaded > 0 {
				logger.Info("[Repair] Reloaded %d queued repairs", reloaded)
			}
		}
	}

	return e
}

// Queue returns the underlying work queue.
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Run launches the worker pool and the periodic scan loop. It returns after
// starting the goroutines; cancel ctx to stop them.
func (e *Engine) Run(ctx context.Context) {
	e.baseCtx = ctx
	cfg := e.configMgr.GetConfig()

	workers := cfg.RepairSettings.WorkerCount
	for i := 0; i < workers; i++ {
		go e.worker(ctx, i+1)
	}
	logger.Info("[Repair] Started %d repair workers", workers)

	go e.scanLoop(ctx)

	if cfg.RepairSettings.Enabled {
		e.Start()
	}
}

func (e *Engine) scanLoop(ctx context.Context) {
	for {
		interval := time.Duration(e.configMgr.GetConfig().RepairSettings.ScanIntervalMinutes) * time.Minute
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if e.running.Load() {
				e.Scan(ctx)
			}
		}
	}
}

// Start enables periodic scanning and kicks off a scan immediately.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.shouldStop.Store(false)
	e.status.SetRunning(true)
	logger.Info("[Repair] Scheduler started")

	ctx := e.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go e.Scan(ctx)
}

// Stop disables periodic scanning. An in-flight scan halts at the next
// torrent boundary; queued entries are preserved.
func (e *Engine) Stop() {
	e.running.Store(false)
	e.shouldStop.Store(true)
	e.status.SetRunning(false)
	logger.Info("[Repair] Scheduler stopped")
}

// IsRunning reports whether periodic scanning is enabled.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Snapshot returns the status counters plus current queue size.
func (e *Engine) Snapshot() Snapshot {
	return e.status.Snapshot(e.queue.Size())
}

// MarkBroken records a torrent as broken and, when enqueue is set, adds it to
// the repair queue. It is the single entry point shared by the event-driven
// path and the periodic scan.
func (e *Engine) MarkBroken(torrentID, reason string, enqueue bool) {
	filename := ""
	hash := ""
	if entry, ok := e.manager.Entries().Get(torrentID); ok {
		filename = entry.Filename
	}
	if info, ok := e.manager.Infos().Get(torrentID); ok {
		hash = info.Hash
	}

	if e.db != nil {
		rec := store.RepairRecord{
			TorrentID: torrentID,
			Filename:  filename,
			Hash:      hash,
			Status:    store.RepairStatusQueued,
			Reason:    reason,
		}
		if err := e.db.UpsertRepair(rec); err != nil {
			logger.Warn("[Repair] Failed to persist repair record for %s: %v", torrentID, err)
		}
	}

	if !enqueue {
		logger.Info("[Repair] Recorded broken torrent %s (%s), auto-fix disabled", torrentID, reason)
		return
	}

	if e.queue.Enqueue(torrentID) {
		e.status.IncBrokenFound()
		logger.Info("[Repair] Queued %s for repair (%s)", torrentID, reason)
		e.nudge()
	}
}

// OnBrokenLink is the callback wired into the torrent manager for
// event-driven detection from the file-serving path.
func (e *Engine) OnBrokenLink(torrentID, reason string) {
	autoFix := e.configMgr.GetConfig().RepairSettings.AutoFix
	e.MarkBroken(torrentID, reason, autoFix)
}

func (e *Engine) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Scan walks the library once, classifying every torrent. Healthy torrents
// that still carry a repair record are validated and cleared. Only one scan
// runs at a time.
func (e *Engine) Scan(ctx context.Context) {
	if !e.scanActive.CompareAndSwap(false, true) {
		logger.Debug("[Repair] Scan already in progress")
		return
	}
	defer e.scanActive.Store(false)

	cfg := e.configMgr.GetConfig()
	items := e.manager.Entries().Snapshot()
	e.status.BeginScan(len(items))
	logger.Info("[Repair] Scanning %d torrents", len(items))

	for _, item := range items {
		if e.shouldStop.Load() || ctx.Err() != nil {
			logger.Info("[Repair] Scan interrupted")
			break
		}

		e.status.SetCurrent(item.ID)
		e.checkTorrent(ctx, item, cfg)
		e.status.IncProcessed()
	}

	interval := time.Duration(cfg.RepairSettings.ScanIntervalMinutes) * time.Minute
	e.status.EndScan(time.Now().Add(interval))
	logger.Info("[Repair] Scan complete")
}

// checkTorrent classifies a single torrent and updates the repair set.
// Terminal listing statuses are classified without a provider info call.
func (e *Engine) checkTorrent(ctx context.Context, item debrid.TorrentItem, cfg *config.Config) {
	if debrid.IsTransientStatus(item.Status) {
		return
	}

	var reason string
	var broken bool

	switch item.Status {
	case debrid.StatusError:
		reason, broken = ReasonErrorStatus, true
	case debrid.StatusDead:
		reason, broken = ReasonDeadTorrent, true
	case debrid.StatusVirus:
		reason, broken = ReasonVirusDetected, true
	default:
		info, err := e.manager.GetInfo(ctx, item.ID)
		if err != nil {
			if debrid.IsTorrentNotFound(err) {
				e.MarkBroken(item.ID, ReasonTorrentNotFound, false)
			} else {
				logger.Debug("[Repair] Skipping %s, info fetch failed: %v", item.ID, err)
			}
			return
		}
		reason, broken = Classify(info)

		if e.db != nil {
			_ = e.db.UpdateRepairState(item.ID, broken, boolToInt(broken), len(info.Links))
		}
	}

	if broken {
		e.MarkBroken(item.ID, reason, cfg.RepairSettings.AutoFix)
		return
	}

	// Self-healing: a healthy torrent with a lingering record is validated.
	if e.db != nil {
		if rec, err := e.db.GetRepair(item.ID); err == nil && rec != nil {
			if err := e.db.DeleteRepair(item.ID); err == nil {
				e.queue.Remove([]string{item.ID})
				e.status.IncValidated()
				logger.Info("[Repair] Validated %s, cleared repair record", item.ID)
			}
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// worker drains the queue, repairing one torrent at a time.
func (e *Engine) worker(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-time.After(2 * time.Second):
		}

		for {
			id, ok := e.queue.Dequeue()
			if !ok {
				break
			}
			e.repairOne(ctx, id)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// repairOne performs one bounded-retry repair of a torrent. Transient
// provider failures and timeouts are retried with exponential backoff;
// terminal failures mark the record failed with an updated reason.
func (e *Engine) repairOne(ctx context.Context, torrentID string) {
	if !e.inFlight.SetIfAbsent(torrentID, struct{}{}) {
		return
	}
	defer e.inFlight.Remove(torrentID)

	cfg := e.configMgr.GetConfig()
	if e.db != nil {
		_ = e.db.UpdateRepairStatus(torrentID, store.RepairStatusRepairing, "")
	}
	e.status.SetCurrent(torrentID)
	logger.Info("[Repair] Repairing torrent %s", torrentID)

	attempts := uint(cfg.RepairSettings.MaxRetries)
	if attempts == 0 {
		attempts = 1
	}
	baseDelay := time.Duration(cfg.RepairSettings.RetryBackoffMs) * time.Millisecond
	timeout := time.Duration(cfg.RepairSettings.RepairTimeoutSeconds) * time.Second

	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return e.attemptRepair(attemptCtx, torrentID)
		},
		retry.Attempts(attempts),
		retry.Delay(baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if _, terminal := err.(*reasonError); terminal {
				return false
			}
			return debrid.IsTransient(err)
		}),
	)

	if err == nil {
		if e.db != nil {
			_ = e.db.UpdateRepairStatus(torrentID, store.RepairStatusFixed, "")
		}
		e.manager.InvalidateInfo(torrentID)
		e.status.IncFixed()
		logger.Info("[Repair] Fixed torrent %s", torrentID)
		return
	}

	reason := ""
	if re, ok := err.(*reasonError); ok {
		reason = re.reason
	}
	if e.db != nil {
		_ = e.db.UpdateRepairStatus(torrentID, store.RepairStatusFailed, reason)
	}
	e.status.IncFailed()
	logger.Warn("[Repair] Failed to repair %s: %v", torrentID, err)
}

// attemptRepair executes one reinsert cycle: fetch fresh info, re-add the
// magnet, reselect files, wait for completion, and verify the link count.
func (e *Engine) attemptRepair(ctx context.Context, torrentID string) error {
	e.manager.InvalidateInfo(torrentID)
	info, err := e.manager.GetInfo(ctx, torrentID)
	if err != nil {
		if debrid.IsTorrentNotFound(err) {
			return &reasonError{reason: ReasonTorrentNotFound, err: err}
		}
		return fmt.Errorf("failed to fetch torrent info: %w", err)
	}

	if _, broken := Classify(info); !broken {
		// Healed between enqueue and processing.
		return nil
	}
	if info.Hash == "" {
		return &reasonError{reason: ReasonErrorStatus, err: fmt.Errorf("torrent has no hash, cannot reinsert")}
	}

	expected := info.SelectedFileCount()
	selectedPaths := make(map[string]struct{}, expected)
	for i := range info.Files {
		if info.Files[i].Selected == 1 {
			selectedPaths[info.Files[i].Path] = struct{}{}
		}
	}
	if expected == 0 {
		expected = len(info.Files)
	}

	added, err := e.client.AddMagnet(ctx, constructMagnet(info.Hash, info.Filename))
	if err != nil {
		return fmt.Errorf("failed to re-add magnet: %w", err)
	}

	newInfo, err := e.waitForStatus(ctx, added.ID, debrid.StatusWaitingFileSelection, debrid.StatusDownloaded)
	if err != nil {
		return err
	}

	if newInfo.Status == debrid.StatusWaitingFileSelection {
		fileIDs := pickFileIDs(newInfo, selectedPaths)
		if err := e.client.SelectFiles(ctx, added.ID, fileIDs); err != nil {
			return fmt.Errorf("failed to select files: %w", err)
		}
		newInfo, err = e.waitForStatus(ctx, added.ID, debrid.StatusDownloaded)
		if err != nil {
			return err
		}
	}

	got := len(newInfo.Links)
	if got < expected {
		// The reinserted copy is incomplete too; clean it up.
		_ = e.client.DeleteTorrent(ctx, added.ID)
		return &reasonError{reason: ReinsertFailedReason(expected - got)}
	}

	// Replace the broken copy with the fresh one.
	if added.ID != torrentID {
		if err := e.client.DeleteTorrent(ctx, torrentID); err != nil && !debrid.IsTorrentNotFound(err) {
			logger.Warn("[Repair] Failed to delete broken torrent %s: %v", torrentID, err)
		}
	}
	return nil
}

// waitForStatus polls a torrent until it reaches one of the wanted statuses,
// the provider reports a terminal failure, or ctx expires.
func (e *Engine) waitForStatus(ctx context.Context, torrentID string, wanted ...string) (*debrid.TorrentInfo, error) {
	for {
		info, err := e.client.GetTorrentInfo(ctx, torrentID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll torrent %s: %w", torrentID, err)
		}

		for _, w := range wanted {
			if info.Status == w {
				return info, nil
			}
		}

		switch info.Status {
		case debrid.StatusError:
			return nil, &reasonError{reason: ReasonErrorStatus}
		case debrid.StatusDead:
			return nil, &reasonError{reason: ReasonDeadTorrent}
		case debrid.StatusVirus:
			return nil, &reasonError{reason: ReasonVirusDetected}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// pickFileIDs returns the ids of files matching the originally selected
// paths, or every file when none match.
func pickFileIDs(info *debrid.TorrentInfo, selectedPaths map[string]struct{}) []string {
	ids := make([]string, 0, len(selectedPaths))
	for i := range info.Files {
		if _, ok := selectedPaths[info.Files[i].Path]; ok {
			ids = append(ids, fmt.Sprintf("%d", info.Files[i].ID))
		}
	}
	if len(ids) == 0 {
		for i := range info.Files {
			ids = append(ids, fmt.Sprintf("%d", info.Files[i].ID))
		}
	}
	return ids
}

func constructMagnet(hash, name string) string {
	return fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", hash, url.QueryEscape(name))
}

// RepairTorrents queues manual repairs for specific ids, bypassing the
// running flag. Unknown ids are rejected per item.
func (e *Engine) RepairTorrents(ids []string) map[string]string {
	outcomes := make(map[string]string, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		_, known := e.manager.Entries().Get(id)
		if !known && e.db != nil {
			if rec, err := e.db.GetRepair(id); err == nil && rec != nil {
				known = true
			}
		}
		if !known {
			outcomes[id] = "unknown_torrent"
			continue
		}

		reason := "manual"
		if e.db != nil {
			if rec, err := e.db.GetRepair(id); err == nil && rec != nil && rec.Reason != "" {
				reason = rec.Reason
			}
		}
		e.MarkBroken(id, reason, true)
		outcomes[id] = "queued"
	}
	return outcomes
}

// RepairAll enqueues every broken torrent except those whose reason marks the
// content as unavailable at the provider (not-cached family).
func (e *Engine) RepairAll() (queued, skipped int, err error) {
	if e.db == nil {
		return 0, 0, fmt.Errorf("store not available")
	}
	recs, err := e.db.GetAllRepairs()
	if err != nil {
		return 0, 0, err
	}

	prefixes := e.configMgr.GetConfig().RepairSettings.NotCachedPrefixes
	for _, rec := range recs {
		if IsNotCached(rec.Reason, prefixes) {
			skipped++
			continue
		}
		if rec.Status == store.RepairStatusRepairing {
			continue
		}
		if e.queue.Enqueue(rec.TorrentID) {
			_ = e.db.UpdateRepairStatus(rec.TorrentID, store.RepairStatusQueued, "")
			queued++
		}
	}
	if queued > 0 {
		e.nudge()
	}
	return queued, skipped, nil
}

// DeleteRepairs removes repair records, optionally deleting the torrents at
// the provider as well. Returns per-item outcomes.
func (e *Engine) DeleteRepairs(ctx context.Context, ids []string, fromProvider bool) map[string]string {
	outcomes := make(map[string]string, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		e.queue.Remove([]string{id})
		if e.db != nil {
			if err := e.db.DeleteRepair(id); err != nil {
				outcomes[id] = "delete_failed"
				continue
			}
		}
		if fromProvider {
			if err := e.client.DeleteTorrent(ctx, id); err != nil && !debrid.IsTorrentNotFound(err) {
				outcomes[id] = "provider_delete_failed"
				continue
			}
			e.manager.RemoveTorrent(id)
		}
		outcomes[id] = "deleted"
	}
	return outcomes
}

// RemoveFromQueue deletes queued ids without touching their repair records.
func (e *Engine) RemoveFromQueue(ids []string) int {
	return e.queue.Remove(ids)
}

// QueueEntries returns the queue in FIFO order with 1-based positions.
func (e *Engine) QueueEntries() []QueueEntry {
	ids := e.queue.List()
	entries := make([]QueueEntry, 0, len(ids))
	for i, id := range ids {
		entry := QueueEntry{TorrentID: id, Position: i + 1}
		if item, ok := e.manager.Entries().Get(id); ok {
			entry.Filename = item.Filename
		}
		if e.db != nil {
			if rec, err := e.db.GetRepair(id); err == nil && rec != nil {
				entry.Reason = rec.Reason
				if entry.Filename == "" {
					entry.Filename = rec.Filename
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
