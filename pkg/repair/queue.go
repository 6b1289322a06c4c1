package repair

import "sync"

// Queue is a FIFO work queue of torrent ids with strict deduplication:
// enqueueing an id already present is a no-op.
type Queue struct {
	mu     sync.Mutex
	order  []string
	queued map[string]struct{}
}

func NewQueue() *Queue {
	return &Queue{queued: make(map[string]struct{})}
}

// Enqueue appends an id, returning false if it was already queued.
func (q *Queue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[id]; ok {
		return false
	}
	q.queued[id] = struct{}{}
	q.order = append(q.order, id)
	return true
}

// Dequeue removes and returns the oldest id.
func (q *Queue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return "", false
	}
	id := q.order[0]
	q.order = q.order[1:]
	delete(q.queued, id)
	return id, true
}

// Remove deletes the given ids from the queue, returning how many were
// actually removed. Positions of later entries shift down.
func (q *Queue) Remove(ids []string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := q.queued[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := q.order[:0]
	for _, id := range q.order {
		if _, ok := drop[id]; ok {
			delete(q.queued, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return len(drop)
}

// Position returns the 1-based FIFO rank of an id, or 0 if not queued.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, qid := range q.order {
		if qid == id {
			return i + 1
		}
	}
	return 0
}

// Contains reports whether an id is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[id]
	return ok
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// List returns a copy of the queue in FIFO order.
func (q *Queue) List() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.order...)
}
