package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/hashicorp/mdns"
	pkgerrors "github.com/pkg/errors"

	"github.com/zachfi/minicast/pkg/ring"
)

var module = "server"

// Server accepts listeners and streams the shared buffer to each of them.
type Server struct {
	services.Service

	cfg    Config
	buffer *ring.Buffer
	meta   *MetadataStore
	logger *slog.Logger

	listen       func(network, address string) (net.Listener, error)
	listener     net.Listener
	mdns         *mdns.Server
	shuttingDown atomic.Bool

	// listeners is the number of registered clients.
	mu        sync.Mutex
	listeners int

	handlers sync.WaitGroup
}

// New creates the listener service. The buffer and metadata store are shared
// with the rest of the engine and outlive the server.
func New(cfg Config, buffer *ring.Buffer, meta *MetadataStore, logger slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if buffer == nil || meta == nil {
		return nil, fmt.Errorf("server needs a buffer and a metadata store")
	}
	cfg.StreamName = ClipStreamName(cfg.StreamName)

	s := &Server{
		cfg:    cfg,
		buffer: buffer,
		meta:   meta,
		logger: logger.With("module", module),
		listen: net.Listen,
	}

	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)

	return s, nil
}

// Listeners returns the number of connected listeners.
func (s *Server) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners
}

// Addr is the bound address, valid once the service is running.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) starting(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))

	l, err := s.listen("tcp", addr)
	if err != nil {
		s.logger.Error("failed to bind", "addr", addr, "err", err)
		return pkgerrors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.listener = l

	if s.cfg.Advertise {
		if err := s.advertise(); err != nil {
			s.logger.Warn("failed to advertise stream", "err", err)
		}
	}

	s.logger.Info("listening", "addr", l.Addr().String(), "limit", s.cfg.ConnectionLimit)
	return nil
}

func (s *Server) running(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		s.shuttingDown.Store(true)
		s.listener.Close()
	})
	defer stop()

	// Accept failures such as running out of file descriptors are retried.
	retries := backoff.New(ctx, backoff.Config{
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: time.Second,
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Error("listener closed", "err", err)
				return pkgerrors.Wrap(err, "accept failed")
			}

			metricAcceptErrors.Inc()
			s.logger.Warn("accept failed", "err", err, "retries", retries.NumRetries())
			retries.Wait()
			if !retries.Ongoing() {
				return nil
			}
			continue
		}
		retries.Reset()

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) stopping(_ error) error {
	s.shuttingDown.Store(true)

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close listener", "err", err)
		}
	}
	if s.mdns != nil {
		if err := s.mdns.Shutdown(); err != nil {
			s.logger.Warn("failed to stop advertising", "err", err)
		}
	}

	// Handlers see the cancelled context and close their own connections.
	s.handlers.Wait()

	s.logger.Info("stopped")
	return nil
}

// register admits a client unless the server is at its connection limit.
func (s *Server) register() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners >= s.cfg.ConnectionLimit {
		return false
	}
	s.listeners++
	metricListeners.Inc()
	return true
}

func (s *Server) unregister() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners--
	metricListeners.Dec()
}

func (s *Server) advertise() error {
	port := s.listener.Addr().(*net.TCPAddr).Port

	service, err := mdns.NewMDNSService(
		s.cfg.StreamName,
		"_shoutcast._tcp",
		"",
		"",
		port,
		localIPs(),
		[]string{"path=" + publishedResource},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	s.mdns = server

	s.logger.Info("advertising stream", "name", s.cfg.StreamName, "port", port)
	return nil
}

func localIPs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP)
		}
	}
	return ips
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
