package gateway

import "sync"

// BacklogEntry holds one broadcast envelope for replay.
type BacklogEntry struct {
	Seq  int64
	Data []byte
}

// Backlog is a fixed-size circular buffer of recent envelopes for one
// channel. Clients that detect a channel_seq gap fetch the missed range.
type Backlog struct {
	mu      sync.RWMutex
	entries []BacklogEntry
	size    int
	next    int // next write position
	wrapped bool
}

// NewBacklog creates a backlog holding up to size envelopes.
func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = 500
	}
	return &Backlog{
		entries: make([]BacklogEntry, size),
		size:    size,
	}
}

// Push records an envelope, evicting the oldest when full. The data is
// copied so the broadcast buffer can be reused.
func (b *Backlog) Push(seq int64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	b.entries[b.next] = BacklogEntry{Seq: seq, Data: cp}
	b.next = (b.next + 1) % b.size
	if b.next == 0 {
		b.wrapped = true
	}
}

// Range returns all entries with seq in [fromSeq, toSeq], oldest first.
func (b *Backlog) Range(fromSeq, toSeq int64) []BacklogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []BacklogEntry
	n := b.count()
	for i := 0; i < n; i++ {
		e := b.entries[b.physical(i)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of envelopes currently held.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count()
}

func (b *Backlog) count() int {
	if b.wrapped {
		return b.size
	}
	return b.next
}

// physical converts a logical index (0 = oldest) to a slice index.
func (b *Backlog) physical(logical int) int {
	if b.wrapped {
		return (b.next + logical) % b.size
	}
	return logical
}
