// Package ring provides the circular byte buffer that sits between the
// encoder and the listeners.
//
// A Buffer has a single writer and any number of readers. Readers do not
// register with the buffer; each keeps its own cursor and passes it back on
// every read. The buffer only ever holds the most recent Cap() bytes and has
// no notion of unread data: a reader that falls more than Cap() bytes behind
// the writer is not detected, and its next read returns whatever now occupies
// the slots after its cursor. Slow listeners therefore hear a glitch instead
// of stalling the broadcast.
package ring

import (
	"context"
	"sync"
)

// DefaultSize holds roughly 16 seconds of audio at 64 kbps.
const DefaultSize = 128 * 1024

// Buffer is a fixed capacity circular byte buffer.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	w       int
	written uint64

	// notify is closed and replaced on every write, waking all readers.
	notify chan struct{}
}

// New creates a buffer with the given capacity.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}

	return &Buffer{
		data:   make([]byte, size),
		notify: make(chan struct{}),
	}
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Write appends p at the write cursor, wrapping at capacity, and wakes every
// blocked reader. If p is larger than the buffer only its tail is kept, but the
// cursor still advances by len(p) modulo capacity.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	size := len(b.data)

	b.mu.Lock()
	defer b.mu.Unlock()

	src := p
	start := b.w
	if len(src) > size {
		skip := len(src) - size
		src = src[skip:]
		start = (b.w + skip) % size
	}

	first := copy(b.data[start:], src)
	copy(b.data, src[first:])

	b.w = (b.w + n) % size
	b.written += uint64(n)

	close(b.notify)
	b.notify = make(chan struct{})

	return n, nil
}

// Cursor returns the current write cursor. New readers start here.
func (b *Buffer) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w
}

// Written returns the total number of bytes ever written.
func (b *Buffer) Written() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Available returns how many bytes lie between cursor and the write cursor.
func (b *Buffer) Available(cursor int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available(cursor)
}

func (b *Buffer) available(cursor int) int {
	size := len(b.data)
	return ((b.w-cursor)%size + size) % size
}

// Read copies up to len(p) bytes starting at cursor into p without blocking.
// It returns the number of bytes copied and the cursor to use for the next
// read.
func (b *Buffer) Read(cursor int, p []byte) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(cursor, p)
}

func (b *Buffer) read(cursor int, p []byte) (int, int) {
	n := b.available(cursor)
	if n > len(p) {
		n = len(p)
	}
	if n == 0 {
		return 0, cursor
	}

	size := len(b.data)
	first := copy(p[:n], b.data[cursor:])
	copy(p[first:n], b.data)

	return n, (cursor + n) % size
}

// Next blocks until data past cursor exists, then reads it like Read. It
// returns ctx.Err() if ctx is done first.
func (b *Buffer) Next(ctx context.Context, cursor int, p []byte) (int, int, error) {
	for {
		b.mu.Lock()
		n, next := b.read(cursor, p)
		notify := b.notify
		b.mu.Unlock()

		if n > 0 || len(p) == 0 {
			return n, next, nil
		}

		select {
		case <-ctx.Done():
			return 0, cursor, ctx.Err()
		case <-notify:
		}
	}
}
