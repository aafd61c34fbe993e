package logstream

// Buffer is a capacity-bounded tail of log lines. When full, the oldest
// lines are evicted first. Buffer is not safe for concurrent use; Session
// guards it.
type Buffer struct {
	lines    []string
	capacity int
}

// NewBuffer returns an empty buffer holding at most capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity}
}

// Append adds line and drops the oldest entries past capacity.
func (b *Buffer) Append(line string) {
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.capacity; over > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(b.lines, b.lines[over:])
		clear(b.lines[n:])
		b.lines = b.lines[:n]
	}
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (b *Buffer) Snapshot() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int { return len(b.lines) }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Reset drops every line.
func (b *Buffer) Reset() {
	clear(b.lines)
	b.lines = b.lines[:0]
}
