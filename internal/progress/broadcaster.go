// Package progress fans export progress events out to any number of
// listeners, such as websocket clients watching a running export.
package progress

import (
	"sync"
	"time"

	"github.com/dchest/uniuri"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
	"github.com/babelcloud/gbox/packages/frame-export/internal/util"
)

// Event kinds.
const (
	KindProgress = "progress"
	KindDone     = "done"
	KindError    = "error"
)

// Event is one progress update for an export job.
type Event struct {
	JobID string    `json:"job_id"`
	Kind  string    `json:"kind"`
	Stage string    `json:"stage,omitempty"`
	Frame int       `json:"frame"`
	Total int       `json:"total"`
	Bytes int       `json:"bytes"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// Broadcaster distributes the events of one job. The most recent event is
// cached and replayed to new subscribers so a late listener still sees the
// current state.
type Broadcaster struct {
	jobID string

	mu          sync.RWMutex
	subscribers map[string]chan<- Event
	last        *Event
	closed      bool
}

// NewBroadcaster creates a broadcaster for jobID.
func NewBroadcaster(jobID string) *Broadcaster {
	return &Broadcaster{
		jobID:       jobID,
		subscribers: make(map[string]chan<- Event),
	}
}

// JobID returns the job this broadcaster serves.
func (b *Broadcaster) JobID() string { return b.jobID }

// Subscribe registers a listener and returns its id and channel. On a closed
// broadcaster the channel carries the final event, if any, and is closed.
func (b *Broadcaster) Subscribe(bufferSize int) (string, <-chan Event) {
	if bufferSize < 1 {
		bufferSize = 1
	}
	id := uniuri.NewLen(16)

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	if b.last != nil {
		ch <- *b.last
	}
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch

	util.GetLogger().Debug("Progress subscriber added", "job", b.jobID, "id", id, "total", len(b.subscribers))
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		util.GetLogger().Debug("Progress subscriber removed", "job", b.jobID, "id", id, "remaining", len(b.subscribers))
	}
}

// Publish sends ev to every listener. Listeners whose buffer is full are
// dropped. A terminal event closes the broadcaster.
func (b *Broadcaster) Publish(ev Event) {
	ev.JobID = b.jobID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = &ev

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.subscribers, id)
			util.GetLogger().Warn("Dropping progress subscriber due to full channel", "job", b.jobID, "id", id)
		}
	}

	if ev.Terminal() {
		b.closeLocked()
	}
}

// Close shuts down the broadcaster and closes all listener channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *Broadcaster) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan<- Event)
}

// Closed reports whether a terminal event was published or Close was called.
func (b *Broadcaster) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// SubscriberCount returns the current number of listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Last returns the most recent event.
func (b *Broadcaster) Last() (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return Event{}, false
	}
	return *b.last, true
}

// ProgressFunc adapts the broadcaster to an export progress callback.
func (b *Broadcaster) ProgressFunc() export.ProgressFunc {
	return func(p export.Progress) {
		b.Publish(Event{Kind: KindProgress, Stage: p.Stage, Frame: p.Frame, Total: p.Total, Bytes: p.Bytes})
	}
}

// Finish publishes the terminal event for an export outcome.
func (b *Broadcaster) Finish(res *export.Result, err error) {
	if err != nil {
		b.Publish(Event{Kind: KindError, Error: err.Error()})
		return
	}
	ev := Event{Kind: KindDone, Stage: export.StageDone}
	if res != nil {
		ev.Frame = res.Frames
		ev.Total = res.Frames
		ev.Bytes = len(res.Data)
	}
	b.Publish(ev)
}
