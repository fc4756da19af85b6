package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/grafana/dskit/services"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/minicast/modules/encoder"
	"github.com/zachfi/minicast/modules/server"
	"github.com/zachfi/minicast/pkg/ring"
)

var module = "engine"

// ErrStopped is returned by operations on an engine that has been cleaned up.
var ErrStopped = errors.New("engine is stopped")

// Engine runs the encoding pipeline and the listener server over a shared
// stream buffer, and applies configuration changes to whichever of the two
// they affect.
type Engine struct {
	services.Service

	base     slog.Logger
	logger   *slog.Logger
	tracer   trace.Tracer
	newCodec encoder.CodecFactory
	store    Store

	cfgMu sync.Mutex
	cfg   Config

	// mu guards the running subsystems. Lifecycle changes hold it for
	// writing.
	mu       sync.RWMutex
	pipeline *encoder.Pipeline
	server   *server.Server

	// watcher reports subsystems that fail while running; failed carries
	// errors that leave a subsystem down, such as a failed rollback.
	watcher *services.FailureWatcher
	failed  chan error

	// Shared state that survives subsystem restarts.
	queue  *encoder.Queue
	buffer atomic.Pointer[ring.Buffer]
	meta   *server.MetadataStore
}

type Option func(*Engine)

// WithCodecFactory replaces the shine encoder.
func WithCodecFactory(f encoder.CodecFactory) Option {
	return func(e *Engine) { e.newCodec = f }
}

// WithStore persists successful SetConfig calls.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// New creates an engine service. Nothing runs until the service is started.
func New(cfg Config, logger slog.Logger, opts ...Option) (*Engine, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		base:     logger,
		logger:   logger.With("module", module),
		tracer:   otel.Tracer("github.com/zachfi/minicast/modules/engine"),
		newCodec: encoder.NewShineCodec,
		cfg:      cfg,
		meta:     server.NewMetadataStore(),
		watcher:  services.NewFailureWatcher(),
		failed:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.queue = encoder.NewQueue(func() bool { return e.Connections() > 0 })
	e.buffer.Store(ring.New(cfg.Network.BufferSize))

	e.Service = services.NewBasicService(e.starting, e.running, e.stopping)

	return e, nil
}

// Initialize starts an engine. A nil cfg selects DefaultConfig.
func Initialize(ctx context.Context, cfg *Config, logger slog.Logger, opts ...Option) (*Engine, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}

	e, err := New(c, logger, opts...)
	if err != nil {
		return nil, err
	}

	// The engine outlives ctx; ctx only bounds the wait.
	if err := e.StartAsync(context.WithoutCancel(ctx)); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize engine")
	}
	if err := e.AwaitRunning(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize engine")
	}

	return e, nil
}

// Cleanup stops both subsystems and waits for them.
func (e *Engine) Cleanup(ctx context.Context) error {
	err := services.StopAndAwaitTerminated(ctx, e)
	if err != nil && e.State() == services.Failed {
		// A failed engine has already stopped its subsystems.
		return nil
	}
	return err
}

func (e *Engine) starting(ctx context.Context) error {
	cfg := e.Config()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.startPipeline(ctx, cfg.Encoder); err != nil {
		return err
	}

	if err := e.startServer(ctx, cfg.Network); err != nil {
		e.stopPipeline()
		return err
	}

	e.logger.Info("started", "addr", e.server.Addr().String())
	return nil
}

func (e *Engine) running(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-e.watcher.Chan():
		e.logger.Error("subsystem failed", "err", err)
		return pkgerrors.Wrap(err, "engine subsystem failed")
	case err := <-e.failed:
		e.logger.Error("subsystem down", "err", err)
		return err
	}
}

// fail stops the engine from running with a subsystem down.
func (e *Engine) fail(err error) {
	select {
	case e.failed <- err:
	default:
	}
}

func (e *Engine) stopping(_ error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopServer()
	e.stopPipeline()

	e.logger.Info("stopped")
	return nil
}

// Encode queues count samples per channel of interleaved 16-bit PCM. Blocks
// are dropped without error while no listener is connected. It returns
// encoder.ErrNotRunning while the encoder is restarting and ErrStopped once
// the engine has stopped or failed.
func (e *Engine) Encode(samples []int16, count, channels, sampleRate int) error {
	switch e.State() {
	case services.Terminated, services.Failed:
		return ErrStopped
	}

	e.mu.RLock()
	running := e.pipeline != nil && e.pipeline.State() == services.Running
	e.mu.RUnlock()

	if !running {
		return encoder.ErrNotRunning
	}

	return e.queue.Enqueue(samples, count, channels, sampleRate)
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

// SetConfig applies cfg, restarting the encoder when encoder settings change
// and the listener server when network settings change. If a subsystem fails
// to start with the new settings it is restarted with the old ones and the
// previous configuration stays in effect. StateFile is fixed for the life of
// the engine.
func (e *Engine) SetConfig(ctx context.Context, cfg Config) error {
	ctx, span := e.tracer.Start(ctx, "Engine.SetConfig")

	err := e.setConfig(ctx, cfg, span)
	return tracing.ErrHandler(span, err, "failed to apply configuration", e.logger)
}

func (e *Engine) setConfig(ctx context.Context, cfg Config, span trace.Span) error {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if s := e.State(); s != services.Running {
		return fmt.Errorf("%w: %s", ErrStopped, s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.Config()
	if cfg.StateFile != old.StateFile {
		return fmt.Errorf("%w: state-file cannot be changed at runtime", ErrInvalidConfig)
	}

	encoderChanged := old.Encoder != cfg.Encoder
	networkChanged := old.Network != cfg.Network
	bufferChanged := old.Network.BufferSize != cfg.Network.BufferSize

	span.SetAttributes(
		attribute.Bool("encoder_changed", encoderChanged),
		attribute.Bool("network_changed", networkChanged),
	)

	if encoderChanged {
		e.stopPipeline()
		if err := e.startPipeline(ctx, cfg.Encoder); err != nil {
			if rerr := e.startPipeline(ctx, old.Encoder); rerr != nil {
				e.logger.Error("failed to restore encoder", "err", rerr)
				e.fail(pkgerrors.Wrap(rerr, "failed to restore encoder"))
			}
			return pkgerrors.Wrap(err, "failed to restart encoder")
		}
	}

	if networkChanged {
		e.stopServer()

		// Listeners are gone, so a new buffer loses nothing. The pipeline
		// writes through streamSink and picks it up immediately.
		previous := e.buffer.Load()
		if bufferChanged {
			e.buffer.Store(ring.New(cfg.Network.BufferSize))
		}

		if err := e.startServer(ctx, cfg.Network); err != nil {
			e.buffer.Store(previous)
			if rerr := e.startServer(ctx, old.Network); rerr != nil {
				e.logger.Error("failed to restore listener server", "err", rerr)
				e.fail(pkgerrors.Wrap(rerr, "failed to restore listener server"))
			}
			if encoderChanged {
				e.stopPipeline()
				if rerr := e.startPipeline(ctx, old.Encoder); rerr != nil {
					e.logger.Error("failed to restore encoder", "err", rerr)
					e.fail(pkgerrors.Wrap(rerr, "failed to restore encoder"))
				}
			}
			return pkgerrors.Wrap(err, "failed to restart listener server")
		}
	}

	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.logger.Info("configuration applied", "encoder_restarted", encoderChanged, "server_restarted", networkChanged)

	if e.store != nil {
		if err := e.store.Save(cfg); err != nil {
			e.logger.Warn("failed to save configuration", "err", err)
		}
	}

	return nil
}

// UpdateTitle sets the "now playing" title sent to listeners.
func (e *Engine) UpdateTitle(title string) error {
	switch e.State() {
	case services.Terminated, services.Failed:
		return ErrStopped
	}

	if e.meta.SetTitle(title) {
		e.logger.Debug("title updated", "title", title)
	}
	return nil
}

// Title returns the current title.
func (e *Engine) Title() string {
	return e.meta.Title()
}

// Connections returns the number of connected listeners.
func (e *Engine) Connections() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.server == nil {
		return 0
	}
	return e.server.Listeners()
}

// Addr returns the listener server's address, or an empty string when it is
// not running.
func (e *Engine) Addr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.server == nil || e.server.Addr() == nil {
		return ""
	}
	return e.server.Addr().String()
}

// Must be called with mu held.
func (e *Engine) startPipeline(ctx context.Context, cfg encoder.Config) error {
	p, err := encoder.NewPipeline(cfg, e.queue, streamSink{e}, e.newCodec, e.base)
	if err != nil {
		return err
	}
	if err := services.StartAndAwaitRunning(context.WithoutCancel(ctx), p); err != nil {
		return pkgerrors.Wrap(err, "failed to start encoder")
	}
	e.watcher.WatchService(p)
	e.pipeline = p
	return nil
}

// Must be called with mu held.
func (e *Engine) stopPipeline() {
	if e.pipeline == nil {
		return
	}
	if err := services.StopAndAwaitTerminated(context.Background(), e.pipeline); err != nil {
		e.logger.Warn("encoder stopped with error", "err", err)
	}
	e.pipeline = nil
}

// Must be called with mu held.
func (e *Engine) startServer(ctx context.Context, cfg server.Config) error {
	s, err := server.New(cfg, e.buffer.Load(), e.meta, e.base)
	if err != nil {
		return err
	}
	if err := services.StartAndAwaitRunning(context.WithoutCancel(ctx), s); err != nil {
		return pkgerrors.Wrap(err, "failed to start listener server")
	}
	e.watcher.WatchService(s)
	e.server = s
	return nil
}

// Must be called with mu held.
func (e *Engine) stopServer() {
	if e.server == nil {
		return
	}
	if err := services.StopAndAwaitTerminated(context.Background(), e.server); err != nil {
		e.logger.Warn("listener server stopped with error", "err", err)
	}
	e.server = nil
}

// streamSink writes encoded audio into whichever buffer is current.
type streamSink struct {
	e *Engine
}

func (s streamSink) Write(p []byte) (int, error) {
	return s.e.buffer.Load().Write(p)
}
