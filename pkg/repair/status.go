package repair

import (
	"sync"
	"time"
)

// Status tracks repair engine counters. Cumulative counters (broken_found,
// fixed, failed, validated) reset when the scheduler is started.
type Status struct {
	mu sync.RWMutex

	isRunning      bool
	currentTorrent string
	processed      int
	total          int
	brokenFound    int
	fixed          int
	failed         int
	validated      int
	lastRun        time.Time
	nextRun        time.Time
}

// Snapshot is the read-only view served by the status endpoint.
type Snapshot struct {
	IsRunning       bool    `json:"is_running"`
	CurrentTorrent  string  `json:"current_torrent,omitempty"`
	Processed       int     `json:"processed"`
	Total           int     `json:"total"`
	BrokenFound     int     `json:"broken_found"`
	Fixed           int     `json:"fixed"`
	Failed          int     `json:"failed"`
	Validated       int     `json:"validated"`
	QueueSize       int     `json:"queue_size"`
	ProgressPercent float64 `json:"progress_percentage"`
	LastRun         string  `json:"last_run,omitempty"`
	NextRun         string  `json:"next_run,omitempty"`
}

func NewStatus() *Status {
	return &Status{}
}

// SetRunning toggles the scheduler flag; enabling resets cumulative counters.
func (s *Status) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = running
	if running {
		s.brokenFound = 0
		s.fixed = 0
		s.failed = 0
		s.validated = 0
		s.processed = 0
		s.total = 0
		s.currentTorrent = ""
	}
}

func (s *Status) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// BeginScan resets per-scan progress for a pass over total torrents.
func (s *Status) BeginScan(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
	s.processed = 0
	s.lastRun = time.Now()
}

// EndScan records when the next periodic pass is due.
func (s *Status) EndScan(next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTorrent = ""
	s.nextRun = next
}

func (s *Status) SetCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTorrent = id
}

func (s *Status) IncProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
}

func (s *Status) IncBrokenFound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenFound++
}

func (s *Status) IncFixed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed++
}

func (s *Status) IncFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

func (s *Status) IncValidated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated++
}

// Snapshot returns a consistent copy of all counters.
func (s *Status) Snapshot(queueSize int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		IsRunning:       s.isRunning,
		CurrentTorrent:  s.currentTorrent,
		Processed:       s.processed,
		Total:           s.total,
		BrokenFound:     s.brokenFound,
		Fixed:           s.fixed,
		Failed:          s.failed,
		Validated:       s.validated,
		QueueSize:       queueSize,
		ProgressPercent: progressPercent(s.processed, s.total),
	}
	if !s.lastRun.IsZero() {
		snap.LastRun = s.lastRun.UTC().Format(time.RFC3339)
	}
	if !s.nextRun.IsZero() {
		snap.NextRun = s.nextRun.UTC().Format(time.RFC3339)
	}
	return snap
}

// progressPercent is processed/total*100, 0 when total is 0, clamped to [0,100].
func progressPercent(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
