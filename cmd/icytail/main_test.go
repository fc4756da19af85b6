package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zachfi/minicast/modules/engine"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTailLogsTitleAndAudio(t *testing.T) {
	engineLogger := *slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := engine.DefaultConfig()
	cfg.Network.Address = "127.0.0.1"
	cfg.Network.Port = 0
	cfg.Network.MetadataInterval = 512

	e, err := engine.Initialize(context.Background(), &cfg, engineLogger)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = e.Cleanup(context.Background()) })

	if err := e.UpdateTitle("Tail Artist - Tail Song"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Feed silence; blocks are dropped until tail has connected.
	go func() {
		block := make([]int16, 1152*2)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = e.Encode(block, 1152, 2, 44100)
			}
		}
	}()

	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, nil))

	if err := tail(ctx, logger, "http://"+e.Addr()+"/", 100*time.Millisecond); err != nil {
		t.Fatalf("tail: %v", err)
	}

	logs := out.String()
	for _, want := range []string{
		`msg=connected name="Minicast live MP3 stream"`,
		`msg="now playing" title="Tail Artist - Tail Song"`,
		`msg="first frame"`,
		`msg=disconnected`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("missing %q in:\n%s", want, logs)
		}
	}
}

func TestTailRejectsReportInterval(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, interval := range []time.Duration{0, -time.Second} {
		err := tail(context.Background(), logger, "http://127.0.0.1:1/", interval)
		if err == nil || !strings.Contains(err.Error(), "report interval") {
			t.Errorf("interval %s: error = %v", interval, err)
		}
	}
}
