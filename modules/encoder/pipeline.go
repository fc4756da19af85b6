package encoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
)

var module = "encoder"

// initialFormat is the session opened before any audio arrives, so codec
// parameter errors show up when the pipeline starts.
var initialFormat = Format{Channels: 2, SampleRate: 44100}

// Phase is the pipeline's position in its session lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseEncoding
	PhaseRestarting
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseEncoding:
		return "encoding"
	case PhaseRestarting:
		return "restarting"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return "idle"
	}
}

// Pipeline drains a Queue through a Codec into a sink, one codec session per
// run of same-format blocks.
type Pipeline struct {
	services.Service

	cfg      Config
	queue    *Queue
	sink     io.Writer
	newCodec CodecFactory
	logger   *slog.Logger

	phase atomic.Int32

	// Owned by the service goroutine.
	codec  Codec
	info   StreamInfo
	format Format
	acc    []int16
}

// NewPipeline creates the encoding service. A nil newCodec selects the shine
// encoder.
func NewPipeline(cfg Config, queue *Queue, sink io.Writer, newCodec CodecFactory, logger slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if queue == nil || sink == nil {
		return nil, fmt.Errorf("encoder needs a queue and a sink")
	}
	if newCodec == nil {
		newCodec = NewShineCodec
	}

	p := &Pipeline{
		cfg:      cfg,
		queue:    queue,
		sink:     sink,
		newCodec: newCodec,
		logger:   logger.With("module", module),
	}

	p.Service = services.NewBasicService(p.starting, p.running, p.stopping)

	return p, nil
}

// Phase reports what the pipeline is doing.
func (p *Pipeline) Phase() Phase {
	return Phase(p.phase.Load())
}

func (p *Pipeline) starting(_ context.Context) error {
	if err := p.openSession(initialFormat); err != nil {
		p.logger.Error("failed to start codec session", "format", initialFormat, "err", err)
		return errors.Wrap(err, "failed to start encoder")
	}

	p.logger.Info("started", "bitrate", p.cfg.Bitrate, "channel_mode", p.cfg.ChannelMode)
	if p.info.FixedSettings {
		p.logger.Info("codec does not apply the configured bitrate or channel mode", "bitrate", p.cfg.Bitrate, "channel_mode", p.cfg.ChannelMode)
	}
	return nil
}

func (p *Pipeline) running(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		b, ok := p.queue.Peek()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.queue.Ready():
			}
			continue
		}

		// The head block stays queued until a session for its format is open.
		if b.Format != p.format {
			p.phase.Store(int32(PhaseRestarting))
			p.logger.Debug("format changed", "from", p.format, "to", b.Format)

			p.closeSession()
			if err := p.openSession(b.Format); err != nil {
				p.logger.Error("failed to start codec session", "format", b.Format, "err", err)
				return errors.Wrapf(err, "failed to start codec session for %s", b.Format)
			}
			continue
		}

		p.queue.Pop()
		p.consume(b.Samples)
	}
}

func (p *Pipeline) stopping(_ error) error {
	p.phase.Store(int32(PhaseShuttingDown))

	if p.codec != nil {
		for {
			b, ok := p.queue.Peek()
			if !ok || b.Format != p.format {
				break
			}
			p.queue.Pop()
			p.consume(b.Samples)
		}
		p.closeSession()
	}

	p.phase.Store(int32(PhaseIdle))
	p.logger.Info("stopped", "queued", p.queue.Len())
	return nil
}

func (p *Pipeline) openSession(f Format) error {
	codec := p.newCodec()

	info, err := codec.InitStream(sessionParams(p.cfg, f))
	if err != nil {
		_ = codec.Close()
		return err
	}
	if info.ChunkSamples <= 0 {
		_ = codec.Close()
		return fmt.Errorf("codec reported chunk size %d", info.ChunkSamples)
	}

	p.codec = codec
	p.info = info
	p.format = f
	p.acc = make([]int16, 0, info.ChunkSamples)
	p.phase.Store(int32(PhaseEncoding))
	metricSessions.Inc()

	p.logger.Debug("codec session started", "format", f, "chunk_samples", info.ChunkSamples)
	return nil
}

// closeSession flushes the partial chunk, finalizes and releases the codec.
func (p *Pipeline) closeSession() {
	if p.codec == nil {
		return
	}

	if len(p.acc) > 0 {
		p.encode(p.acc)
		p.acc = p.acc[:0]
	}

	trailing, err := p.codec.FinalizeStream()
	if err != nil {
		p.logger.Warn("failed to finalize codec session", "err", err)
	} else {
		p.forward(trailing)
	}

	if err := p.codec.Close(); err != nil {
		p.logger.Warn("failed to close codec", "err", err)
	}

	p.codec = nil
	p.format = Format{}
}

func (p *Pipeline) consume(samples []int16) {
	for len(samples) > 0 {
		n := min(p.info.ChunkSamples-len(p.acc), len(samples))
		p.acc = append(p.acc, samples[:n]...)
		samples = samples[n:]

		if len(p.acc) == p.info.ChunkSamples {
			p.encode(p.acc)
			p.acc = p.acc[:0]
		}
	}
}

func (p *Pipeline) encode(chunk []int16) {
	out, err := p.codec.EncodeChunk(chunk)
	if err != nil {
		metricChunkErrors.Inc()
		p.logger.Warn("skipping chunk", "samples", len(chunk), "err", err)
		return
	}
	p.forward(out)
}

func (p *Pipeline) forward(b []byte) {
	if len(b) == 0 {
		return
	}

	n, err := p.sink.Write(b)
	metricEncodedBytes.Add(float64(n))
	if err != nil {
		p.logger.Warn("failed to write encoded audio", "err", err)
	}
}
