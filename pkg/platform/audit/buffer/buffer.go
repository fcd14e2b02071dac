// Package buffer holds captured audit entries between request handling and
// the relay. Producers are HTTP handler goroutines; the single consumer is the
// relay loop.
package buffer

import (
	"sync"

	audit "auditrelay/pkg/platform/audit"
)

// compactThreshold bounds how much dead space at the front of the backing
// slice is tolerated before live entries are shifted down.
const compactThreshold = 1024

// Buffer is an unbounded, thread-safe FIFO of audit entries.
// Add never blocks on I/O, never drops and never rejects.
type Buffer struct {
	mu      sync.Mutex
	entries []audit.AuditEntry
	head    int // index of the oldest live entry

	// Stats
	added   uint64
	drained uint64
}

// New creates an empty buffer. initialCapacity is a sizing hint only.
func New(initialCapacity int) *Buffer {
	if initialCapacity < 0 {
		initialCapacity = 0
	}
	return &Buffer{
		entries: make([]audit.AuditEntry, 0, initialCapacity),
	}
}

// Add appends an entry to the tail.
func (b *Buffer) Add(entry audit.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	b.added++
}

// DrainAll removes and returns every entry queued at the moment the lock is
// taken, oldest first. Entries added afterwards stay for the next drain.
func (b *Buffer) DrainAll() []audit.AuditEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.takeLocked(len(b.entries) - b.head)
}

// DrainUpTo removes and returns at most n entries, oldest first.
func (b *Buffer) DrainUpTo(n int) []audit.AuditEntry {
	if n <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if live := len(b.entries) - b.head; n > live {
		n = live
	}
	return b.takeLocked(n)
}

func (b *Buffer) takeLocked(n int) []audit.AuditEntry {
	if n == 0 {
		return nil
	}

	result := make([]audit.AuditEntry, n)
	copy(result, b.entries[b.head:b.head+n])

	// Zero the vacated slots so drained bodies can be collected.
	clear(b.entries[b.head : b.head+n])
	b.head += n
	b.drained += uint64(n)

	switch {
	case b.head == len(b.entries):
		b.entries = b.entries[:0]
		b.head = 0
	case b.head >= compactThreshold && b.head*2 >= len(b.entries):
		live := copy(b.entries, b.entries[b.head:])
		clear(b.entries[live:])
		b.entries = b.entries[:live]
		b.head = 0
	}

	return result
}

// Size returns a snapshot of the number of queued entries. It is not a
// synchronization primitive; the value may be stale by the time it is used.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) - b.head
}

// Added returns the total number of entries ever added.
func (b *Buffer) Added() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.added
}

// Drained returns the total number of entries ever drained.
func (b *Buffer) Drained() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drained
}
