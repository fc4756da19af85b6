package source

import (
	"context"
	"errors"

	"github.com/grafana/dskit/backoff"

	"github.com/zachfi/minicast/pkg/shoutcast"
)

var errStreamEnded = errors.New("remote stream ended")

// relay re-broadcasts a remote MP3 stream, reconnecting with exponential
// backoff. Titles announced by the remote server are passed on.
func (s *Source) relay(ctx context.Context, url string) error {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: s.cfg.ReconnectBackoff,
		MaxBackoff: s.cfg.ReconnectBackoffMax,
		MaxRetries: s.cfg.ReconnectRetries,
	})

	for b.Ongoing() {
		connected, err := s.relayOnce(ctx, url)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		metricReconnects.Inc()
		s.logger.Warn("remote stream interrupted", "url", url, "err", err, "retries", b.NumRetries())
		b.Wait()
	}

	if ctx.Err() != nil {
		return nil
	}
	return b.Err()
}

func (s *Source) relayOnce(ctx context.Context, url string) (bool, error) {
	stream, err := shoutcast.Open(ctx, url)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	// Unblock reads when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	if stream.Name != "" {
		if err := s.sink.UpdateTitle(stream.Name); err != nil {
			return false, err
		}
	}
	stream.MetadataCallbackFunc = func(m *shoutcast.Metadata) {
		s.logger.Info("now relaying", "title", m.StreamTitle)
		if err := s.sink.UpdateTitle(m.StreamTitle); err != nil {
			s.logger.Warn("failed to update title", "err", err)
		}
	}

	t, err := newMP3Track(stream, nil)
	if err != nil {
		return false, err
	}

	s.logger.Info("relaying", "url", url, "name", stream.Name, "sample_rate", t.SampleRate())

	if err := s.play(ctx, t, ""); err != nil {
		return true, err
	}
	return true, errStreamEnded
}
