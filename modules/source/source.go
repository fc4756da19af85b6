package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/grafana/dskit/services"

	"github.com/zachfi/minicast/modules/encoder"
	"github.com/zachfi/minicast/pkg/shoutcast"
)

var module = "source"

const maxLag = time.Second

// Sink receives decoded audio and titles. The engine implements it.
type Sink interface {
	Encode(samples []int16, count, channels, sampleRate int) error
	UpdateTitle(title string) error
}

// Source plays a playlist, a directory or a test tone into a Sink in real
// time.
type Source struct {
	services.Service

	cfg    Config
	sink   Sink
	logger *slog.Logger

	entries []string
}

// New creates a source service.
func New(cfg Config, sink Sink, logger slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("source needs a sink")
	}

	s := &Source{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("module", module),
	}

	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)

	return s, nil
}

func (s *Source) starting(_ context.Context) error {
	entries, err := resolveEntries(s.cfg.Playlist)
	if err != nil {
		s.logger.Error("failed to load playlist", "playlist", s.cfg.Playlist, "err", err)
		return err
	}
	s.entries = entries

	s.logger.Info("started", "playlist", s.cfg.Playlist, "entries", len(entries), "loop", s.cfg.Loop)
	return nil
}

func (s *Source) running(ctx context.Context) error {
	if len(s.entries) == 0 {
		s.logger.Info("no playlist configured, playing test tone")
		return s.play(ctx, NewTone(toneFrequency, toneRate), toneTitle)
	}

	for {
		played := 0
		for _, entry := range s.entries {
			err := s.playEntry(ctx, entry)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				metricTracks.WithLabelValues("skipped").Inc()
				s.logger.Warn("skipping track", "track", entry, "err", err)
				continue
			}
			metricTracks.WithLabelValues("played").Inc()
			played++
		}

		if played == 0 {
			return fmt.Errorf("no playable tracks in %s", s.cfg.Playlist)
		}
		if !s.cfg.Loop {
			s.logger.Info("playlist finished")
			<-ctx.Done()
			return nil
		}
	}
}

func (s *Source) stopping(_ error) error {
	s.logger.Info("stopped")
	return nil
}

func (s *Source) playEntry(ctx context.Context, entry string) error {
	if isRemote(entry) {
		return s.relay(ctx, entry)
	}

	t, err := OpenFile(entry)
	if err != nil {
		return err
	}
	defer t.Close()

	s.logger.Debug("playing", "track", entry, "sample_rate", t.SampleRate(), "channels", t.Channels())
	return s.play(ctx, t, TitleFor(entry))
}

// play delivers t block by block until it ends or ctx is done. Delivery is
// paced so that the sink receives audio at playback speed.
func (s *Source) play(ctx context.Context, t Track, title string) error {
	if title != "" {
		if err := s.sink.UpdateTitle(title); err != nil {
			return err
		}
	}

	channels, rate := t.Channels(), t.SampleRate()
	if channels < 1 || rate <= 0 {
		return fmt.Errorf("%w: %d Hz/%dch", encoder.ErrUnsupportedFormat, rate, channels)
	}

	frames := max(int(int64(rate)*int64(s.cfg.BlockDuration)/int64(time.Second)), 1)
	buf := make([]int16, frames*channels)

	next := time.Now()
	for {
		n, err := t.Read(buf)
		if n > 0 {
			count := n / channels
			if derr := s.deliver(ctx, buf[:n], count, channels, rate); derr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return derr
			}
			metricSourceSamples.Add(float64(count))

			next = next.Add(time.Duration(count) * time.Second / time.Duration(rate))
			if !sleepUntil(ctx, next) {
				return nil
			}
			// Stalled too long; resume at playback speed instead of bursting.
			if time.Since(next) > maxLag {
				next = time.Now()
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// deliver retries while the encoder is restarting.
func (s *Source) deliver(ctx context.Context, samples []int16, count, channels, rate int) error {
	for {
		err := s.sink.Encode(samples, count, channels, rate)
		if !errors.Is(err, encoder.ErrNotRunning) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.BlockDuration):
		}
	}
}

// sleepUntil returns false when ctx ends first.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isRemote(entry string) bool {
	return strings.HasPrefix(entry, "http://") || strings.HasPrefix(entry, "icy://")
}

// resolveEntries expands the configured playlist into tracks: a playlist
// file, a directory of playable files, a single audio file or a stream URL.
func resolveEntries(playlist string) ([]string, error) {
	if playlist == "" {
		return nil, nil
	}
	if isRemote(playlist) {
		return []string{playlist}, nil
	}

	info, err := os.Stat(playlist)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		dirEntries, err := os.ReadDir(playlist)
		if err != nil {
			return nil, err
		}

		var entries []string
		for _, e := range dirEntries {
			if !e.IsDir() && Playable(e.Name()) {
				entries = append(entries, filepath.Join(playlist, e.Name()))
			}
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("no playable files in %s", playlist)
		}
		sort.Strings(entries)
		return entries, nil
	}

	if Playable(playlist) {
		return []string{playlist}, nil
	}

	return shoutcast.LoadPlaylist(playlist)
}
