package progress

import (
	"sync"
	"time"
)

// Registry tracks the broadcaster of every known job. Finished jobs are kept
// for a retention period so clients can still read their final event.
type Registry struct {
	retention time.Duration

	mu   sync.Mutex
	jobs map[string]*entry
	now  func() time.Time
}

type entry struct {
	b        *Broadcaster
	running  bool
	finished time.Time
}

// NewRegistry creates a registry keeping finished jobs for retention.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		retention: retention,
		jobs:      make(map[string]*entry),
		now:       time.Now,
	}
}

// Create registers a new job and returns its broadcaster. A live job with
// the same id is returned unchanged and its retention clock is stopped; a
// closed one is replaced.
func (r *Registry) Create(jobID string) *Broadcaster {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(jobID).b
}

// Start is Create for the export itself. A started job ignores MarkFinished
// until its broadcaster is closed.
func (r *Registry) Start(jobID string) *Broadcaster {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.createLocked(jobID)
	e.running = true
	return e.b
}

func (r *Registry) createLocked(jobID string) *entry {
	r.pruneLocked()

	if e, ok := r.jobs[jobID]; ok && !e.b.Closed() {
		e.finished = time.Time{}
		return e
	}
	e := &entry{b: NewBroadcaster(jobID)}
	r.jobs[jobID] = e
	return e
}

// Get returns the broadcaster of jobID.
func (r *Registry) Get(jobID string) (*Broadcaster, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	e, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return e.b, true
}

// MarkFinished starts the retention clock of jobID.
func (r *Registry) MarkFinished(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[jobID]
	if !ok || !e.finished.IsZero() {
		return
	}
	if e.running && !e.b.Closed() {
		return
	}
	e.finished = r.now()
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.jobs)
}

func (r *Registry) pruneLocked() {
	now := r.now()
	for id, e := range r.jobs {
		if !e.finished.IsZero() && now.Sub(e.finished) > r.retention {
			e.b.Close()
			delete(r.jobs, id)
		}
	}
}
