package audio

import (
	"sync"
)

// RingBuffer is a fixed-capacity circular store of encoded audio chunks.
// It holds the audio captured just before speech is detected so the leading
// frames of an utterance survive voice-activity detection latency: whatever
// was pushed inside the lookback window is available to prepend the instant
// speech is detected.
type RingBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	head   int // index of the oldest chunk
	count  int
}

// NewRingBuffer creates a ring buffer holding at most capacity chunks
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		chunks: make([][]byte, capacity),
	}
}

// NewRingBufferForWindow sizes the buffer so it retains at least windowMs of
// audio when each pushed chunk carries chunkMs of it
func NewRingBufferForWindow(windowMs, chunkMs int) *RingBuffer {
	if chunkMs < 1 {
		chunkMs = 1
	}
	capacity := (windowMs + chunkMs - 1) / chunkMs
	return NewRingBuffer(capacity)
}

// Push appends a chunk, overwriting the oldest one once capacity is exceeded.
// It never fails.
func (b *RingBuffer) Push(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.chunks) {
		b.chunks[(b.head+b.count)%len(b.chunks)] = chunk
		b.count++
		return
	}

	// Full: overwrite the oldest slot and advance the head
	b.chunks[b.head] = chunk
	b.head = (b.head + 1) % len(b.chunks)
}

// Drain returns all stored chunks in chronological (oldest-first) order and
// clears the buffer. Returns nil if nothing is stored.
func (b *RingBuffer) Drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	out := make([][]byte, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.chunks[(b.head+i)%len(b.chunks)]
	}

	b.reset()
	return out
}

// Clear discards all stored chunks without returning them
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Len returns the current occupied count, bounded by capacity
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity in chunks
func (b *RingBuffer) Cap() int {
	return len(b.chunks)
}

func (b *RingBuffer) reset() {
	for i := range b.chunks {
		b.chunks[i] = nil
	}
	b.head = 0
	b.count = 0
}
