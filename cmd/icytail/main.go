// Command icytail listens to an ICY stream and logs what it hears: title
// changes and the amount of audio received.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/units"

	"github.com/zachfi/minicast/pkg/shoutcast"
)

func main() {
	var (
		streamURL   string
		metadata    bool
		interval    time.Duration
		dialTimeout time.Duration
	)

	flag.StringVar(&streamURL, "url", "http://localhost:8000/", "Stream to listen to.")
	flag.BoolVar(&metadata, "metadata", true, "Request in-band title metadata.")
	flag.DurationVar(&interval, "report-interval", 10*time.Second, "How often to log the amount of audio received.")
	flag.DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "Connection timeout.")
	flag.Parse()

	if interval <= 0 {
		fmt.Fprintf(os.Stderr, "-report-interval must be positive, got %s\n", interval)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tail(ctx, logger, streamURL, interval, shoutcast.WithMetadata(metadata), shoutcast.WithDialTimeout(dialTimeout)); err != nil {
		logger.Error("stream failed", "url", streamURL, "err", err)
		os.Exit(1)
	}
}

func tail(ctx context.Context, logger *slog.Logger, streamURL string, interval time.Duration, opts ...shoutcast.Option) error {
	if interval <= 0 {
		return fmt.Errorf("report interval must be positive, got %s", interval)
	}

	stream, err := shoutcast.Open(ctx, streamURL, opts...)
	if err != nil {
		return err
	}
	defer stream.Close()

	logger.Info("connected", "name", stream.Name, "genre", stream.Genre, "bitrate", stream.Bitrate, "metaint", stream.MetaInterval())

	stream.MetadataCallbackFunc = func(m *shoutcast.Metadata) {
		logger.Info("now playing", "title", m.StreamTitle)
	}

	context.AfterFunc(ctx, func() { _ = stream.Close() })

	c := &counter{logger: logger}
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				logger.Info("received", "audio", units.Base2Bytes(c.n.Load()).String())
			}
		}
	}()

	_, err = io.Copy(c, stream)

	logger.Info("disconnected", "audio", units.Base2Bytes(c.n.Load()).String())
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// counter counts audio bytes and reports where the first MPEG frame starts.
type counter struct {
	n      atomic.Int64
	synced bool
	logger *slog.Logger
}

func (c *counter) Write(p []byte) (int, error) {
	if !c.synced {
		if off := shoutcast.FrameSync(p); off >= 0 {
			c.synced = true
			c.logger.Info("first frame", "offset", c.n.Load()+int64(off))
		}
	}

	c.n.Add(int64(len(p)))
	return len(p), nil
}
