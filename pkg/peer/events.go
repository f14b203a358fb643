package peer

import (
	"sync"

	"github.com/rexliu/bctl/pkg/core"
)

// EventBuffer is a fixed-capacity ring of peer events; the oldest entry is evicted first.
type EventBuffer struct {
	mu    sync.Mutex
	buf   []core.Event
	start int
	size  int
	total uint64
}

// NewEventBuffer allocates a ring holding up to capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{buf: make([]core.Event, capacity)}
}

// Append stores e, evicting the oldest event when full.
func (b *EventBuffer) Append(e core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if b.size < len(b.buf) {
		b.buf[(b.start+b.size)%len(b.buf)] = e
		b.size++
		return
	}
	b.buf[b.start] = e
	b.start = (b.start + 1) % len(b.buf)
}

// Snapshot copies buffered events, oldest first. kind filters when non-empty;
// limit keeps only the newest limit matches when positive.
func (b *EventBuffer) Snapshot(limit int, kind string) []core.Event {
	b.mu.Lock()
	out := make([]core.Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		e := b.buf[(b.start+i)%len(b.buf)]
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	b.mu.Unlock()
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len is the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Total counts every event ever appended, evicted ones included.
func (b *EventBuffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
