package term

// Buffer is a bounded FIFO byte buffer for terminal output. When full, the
// oldest bytes are evicted to make room for new ones: terminal output
// favors recency. Reads consume in insertion order.
//
// Buffer does no locking of its own; the owning Session's mutex covers it.
type Buffer struct {
	data    []byte
	head    int // index of the oldest byte
	count   int // bytes currently buffered
	dropped uint64
}

// NewBuffer creates a buffer holding at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Write appends p, evicting the oldest bytes on overflow. It returns how
// many previously-buffered or incoming bytes were dropped.
func (b *Buffer) Write(p []byte) (evicted int) {
	n := len(p)
	if n == 0 {
		return 0
	}
	size := len(b.data)

	// Larger than the whole buffer: only the final window survives.
	if n >= size {
		evicted = b.count + n - size
		copy(b.data, p[n-size:])
		b.head = 0
		b.count = size
		b.dropped += uint64(evicted)
		return evicted
	}

	if overflow := b.count + n - size; overflow > 0 {
		b.head = (b.head + overflow) % size
		b.count -= overflow
		evicted = overflow
		b.dropped += uint64(overflow)
	}

	tail := (b.head + b.count) % size
	written := copy(b.data[tail:], p)
	if written < n {
		copy(b.data, p[written:])
	}
	b.count += n
	return evicted
}

// Read consumes up to len(p) of the oldest buffered bytes into p and
// returns how many were copied. Returns 0 when nothing is buffered.
func (b *Buffer) Read(p []byte) int {
	n := len(p)
	if n > b.count {
		n = b.count
	}
	if n == 0 {
		return 0
	}
	size := len(b.data)

	first := size - b.head
	if first > n {
		first = n
	}
	copy(p[:first], b.data[b.head:b.head+first])
	if first < n {
		copy(p[first:n], b.data[:n-first])
	}

	b.head = (b.head + n) % size
	b.count -= n
	return n
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Dropped returns the total bytes evicted over the buffer's lifetime.
func (b *Buffer) Dropped() uint64 {
	return b.dropped
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
}
