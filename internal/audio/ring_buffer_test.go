package audio

import (
	"bytes"
	"fmt"
	"testing"
)

func chunk(n int) []byte {
	return []byte(fmt.Sprintf("chunk-%d", n))
}

func TestRingBufferPushDrain(t *testing.T) {
	t.Run("overflow_keeps_last_capacity_chunks", func(t *testing.T) {
		b := NewRingBuffer(3)
		for i := 1; i <= 5; i++ {
			b.Push(chunk(i))
		}

		got := b.Drain()
		if len(got) != 3 {
			t.Fatalf("Drain returned %d chunks, want 3", len(got))
		}
		for i, want := range []int{3, 4, 5} {
			if !bytes.Equal(got[i], chunk(want)) {
				t.Errorf("chunk[%d] = %q, want %q", i, got[i], chunk(want))
			}
		}
	})

	t.Run("partial_fill_preserves_order", func(t *testing.T) {
		b := NewRingBuffer(5)
		b.Push(chunk(1))
		b.Push(chunk(2))

		got := b.Drain()
		if len(got) != 2 {
			t.Fatalf("Drain returned %d chunks, want 2", len(got))
		}
		if !bytes.Equal(got[0], chunk(1)) || !bytes.Equal(got[1], chunk(2)) {
			t.Errorf("Drain = [%q %q], want [chunk-1 chunk-2]", got[0], got[1])
		}
		if b.Len() != 0 {
			t.Errorf("Len after Drain = %d, want 0", b.Len())
		}
	})

	t.Run("drain_clears_buffer", func(t *testing.T) {
		b := NewRingBuffer(4)
		b.Push(chunk(1))
		b.Push(chunk(2))

		if got := b.Drain(); len(got) != 2 {
			t.Fatalf("first Drain returned %d chunks, want 2", len(got))
		}
		if got := b.Drain(); got != nil {
			t.Errorf("second Drain returned %d chunks, want empty", len(got))
		}
	})

	t.Run("drain_empty_returns_nil", func(t *testing.T) {
		b := NewRingBuffer(4)
		if got := b.Drain(); got != nil {
			t.Errorf("Drain of empty buffer = %v, want nil", got)
		}
	})

	t.Run("order_across_multiple_wraps", func(t *testing.T) {
		b := NewRingBuffer(3)
		for i := 1; i <= 10; i++ {
			b.Push(chunk(i))
		}
		got := b.Drain()
		for i, want := range []int{8, 9, 10} {
			if !bytes.Equal(got[i], chunk(want)) {
				t.Errorf("chunk[%d] = %q, want %q", i, got[i], chunk(want))
			}
		}
	})
}

func TestRingBufferClear(t *testing.T) {
	b := NewRingBuffer(3)
	b.Push(chunk(1))
	b.Push(chunk(2))

	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", b.Len())
	}
	if got := b.Drain(); got != nil {
		t.Errorf("Drain after Clear returned %d chunks, want empty", len(got))
	}

	// Buffer remains usable after Clear
	b.Push(chunk(7))
	got := b.Drain()
	if len(got) != 1 || !bytes.Equal(got[0], chunk(7)) {
		t.Errorf("Drain after reuse = %v, want [chunk-7]", got)
	}
}

func TestRingBufferLen(t *testing.T) {
	b := NewRingBuffer(2)
	if b.Len() != 0 {
		t.Errorf("initial Len = %d, want 0", b.Len())
	}
	b.Push(chunk(1))
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
	b.Push(chunk(2))
	b.Push(chunk(3))
	if b.Len() != 2 {
		t.Errorf("Len after overflow = %d, want capacity 2", b.Len())
	}
}

func TestNewRingBufferForWindow(t *testing.T) {
	tests := []struct {
		windowMs, chunkMs, wantCap int
	}{
		{600, 100, 6},
		{600, 250, 3}, // rounds up
		{100, 100, 1},
		{50, 100, 1}, // never below one chunk
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("window_%d_chunk_%d", tt.windowMs, tt.chunkMs), func(t *testing.T) {
			b := NewRingBufferForWindow(tt.windowMs, tt.chunkMs)
			if b.Cap() != tt.wantCap {
				t.Errorf("Cap = %d, want %d", b.Cap(), tt.wantCap)
			}
		})
	}
}
