package ring

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		size int
		want int
	}{
		{"default", 0, DefaultSize},
		{"negative", -10, DefaultSize},
		{"explicit", 4096, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.size)
			if b.Cap() != tt.want {
				t.Errorf("Cap() = %d, want %d", b.Cap(), tt.want)
			}
			if b.Cursor() != 0 {
				t.Errorf("Cursor() = %d, want 0", b.Cursor())
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	b := New(64)

	var want []byte
	cursor := b.Cursor()
	var got []byte
	buf := make([]byte, 7)

	for i := 0; i < 20; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i%9+1)
		want = append(want, chunk...)
		if _, err := b.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}

		// Drain after every write so the reader never lags by more than Cap().
		for {
			n, next := b.Read(cursor, buf)
			if n == 0 {
				break
			}
			got = append(got, buf[:n]...)
			cursor = next
		}
	}

	if !bytes.Equal(got, want) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", got, want)
	}
	if b.Written() != uint64(len(want)) {
		t.Errorf("Written() = %d, want %d", b.Written(), len(want))
	}
}

func TestWrapAroundRead(t *testing.T) {
	b := New(16)

	_, _ = b.Write([]byte("0123456789AB"))
	cursor := b.Cursor()
	_, _ = b.Write([]byte("abcdefgh"))

	if got := b.Available(cursor); got != 8 {
		t.Fatalf("Available = %d, want 8", got)
	}

	p := make([]byte, 32)
	n, next := b.Read(cursor, p)
	if string(p[:n]) != "abcdefgh" {
		t.Errorf("Read = %q, want %q", p[:n], "abcdefgh")
	}
	if next != b.Cursor() {
		t.Errorf("next cursor = %d, want %d", next, b.Cursor())
	}
	if next != 4 {
		t.Errorf("next cursor = %d, want 4", next)
	}
}

func TestReadBoundedByLength(t *testing.T) {
	b := New(32)
	_, _ = b.Write([]byte("hello world"))

	p := make([]byte, 5)
	n, next := b.Read(0, p)
	if n != 5 || string(p) != "hello" {
		t.Fatalf("Read = %d %q", n, p[:n])
	}
	n, next = b.Read(next, p)
	if n != 5 || string(p) != " worl" {
		t.Fatalf("Read = %d %q", n, p[:n])
	}
	n, _ = b.Read(next, p)
	if n != 1 || p[0] != 'd' {
		t.Fatalf("Read = %d %q", n, p[:n])
	}
}

func TestIndependentReaders(t *testing.T) {
	b := New(128)
	_, _ = b.Write([]byte("abc"))
	late := b.Cursor()
	_, _ = b.Write([]byte("defgh"))

	p := make([]byte, 16)

	n, _ := b.Read(0, p)
	if string(p[:n]) != "abcdefgh" {
		t.Errorf("early reader got %q", p[:n])
	}

	n, _ = b.Read(late, p)
	if string(p[:n]) != "defgh" {
		t.Errorf("late reader got %q", p[:n])
	}
}

func TestOversizedWriteKeepsTail(t *testing.T) {
	b := New(8)
	_, _ = b.Write([]byte("xy"))
	cursor := b.Cursor()

	_, _ = b.Write([]byte("0123456789ABCDEFGHIJ")) // 20 bytes

	if b.Cursor() != (2+20)%8 {
		t.Fatalf("Cursor = %d, want %d", b.Cursor(), (2+20)%8)
	}

	// The reader is lapped: it sees the available count modulo capacity, and
	// the bytes it reads are the newest ones occupying those slots.
	p := make([]byte, 8)
	n, _ := b.Read(cursor, p)
	if n != 4 {
		t.Fatalf("lapped reader available = %d, want 4", n)
	}
	if string(p[:n]) != "GHIJ" {
		t.Errorf("lapped reader got %q, want %q", p[:n], "GHIJ")
	}

	// The most recent Cap() bytes are intact relative to the write cursor.
	n, _ = b.Read((b.Cursor()+1)%8, p)
	if string(p[:n]) != "DEFGHIJ" {
		t.Errorf("tail = %q, want %q", p[:n], "DEFGHIJ")
	}
}

func TestNextBlocksUntilWrite(t *testing.T) {
	b := New(64)
	cursor := b.Cursor()

	type result struct {
		data string
		next int
		err  error
	}
	done := make(chan result, 1)

	go func() {
		p := make([]byte, 16)
		n, next, err := b.Next(context.Background(), cursor, p)
		done <- result{string(p[:n]), next, err}
	}()

	select {
	case <-done:
		t.Fatal("Next returned before any write")
	case <-time.After(50 * time.Millisecond):
	}

	_, _ = b.Write([]byte("ping"))

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Next: %v", r.err)
		}
		if r.data != "ping" || r.next != 4 {
			t.Errorf("Next = %q/%d, want ping/4", r.data, r.next)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up after write")
	}
}

func TestNextObservesContext(t *testing.T) {
	b := New(64)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := b.Next(ctx, b.Cursor(), make([]byte, 8))
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Next err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next ignored context cancellation")
	}
}

func TestConcurrentReaders(t *testing.T) {
	b := New(4096)
	const readers = 8
	const total = 2000

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([][]byte, readers)
	start := b.Cursor()

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cursor := start
			p := make([]byte, 3+i)
			for len(results[i]) < total {
				n, next, err := b.Next(ctx, cursor, p)
				if err != nil {
					return
				}
				results[i] = append(results[i], p[:n]...)
				cursor = next
			}
		}(i)
	}

	want := make([]byte, total)
	for i := range want {
		want[i] = byte(i % 251)
	}
	for off := 0; off < total; off += 50 {
		_, _ = b.Write(want[off : off+50])
	}

	wg.Wait()

	for i, got := range results {
		if !bytes.Equal(got, want) {
			t.Errorf("reader %d received %d bytes out of order", i, len(got))
		}
	}
}
