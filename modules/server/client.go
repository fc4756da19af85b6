package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/zachfi/minicast/pkg/ring"
	"github.com/zachfi/minicast/pkg/shoutcast"
)

// streamChunkSize is the most audio written per socket write.
const streamChunkSize = 4096

// client is one registered listener.
type client struct {
	id     uuid.UUID
	conn   net.Conn
	buffer *ring.Buffer
	meta   *MetadataStore
	logger *slog.Logger

	cursor int

	// metaint is zero for clients that did not ask for metadata.
	metaint      int
	untilMeta    int
	lastRevision uint64
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	logger := s.logger.With("remote", conn.RemoteAddr().String())

	_ = conn.SetReadDeadline(deadline(s.cfg.HeaderTimeout))
	req, err := readRequest(conn)
	switch {
	case errors.Is(err, errNotImplemented):
		logger.Debug("rejected request", "err", err)
		s.reject(conn, responseNotImplemented, "not_implemented")
		return
	case errors.Is(err, errNotFound):
		logger.Debug("rejected request", "err", err)
		s.reject(conn, responseNotFound, "not_found")
		return
	case err != nil:
		logger.Debug("connection aborted", "err", err)
		metricConnections.WithLabelValues("aborted").Inc()
		return
	}

	if !s.register() {
		logger.Debug("rejected listener, server full", "limit", s.cfg.ConnectionLimit)
		s.reject(conn, responseUnavailable, "rejected_full")
		return
	}
	defer s.unregister()

	c := &client{
		id:     uuid.New(),
		conn:   conn,
		buffer: s.buffer,
		meta:   s.meta,
		cursor: s.buffer.Cursor(),
	}
	if req.wantsMetadata {
		c.metaint = s.cfg.MetadataInterval
		c.untilMeta = c.metaint
	}
	c.logger = logger.With("listener", c.id.String())

	metricConnections.WithLabelValues("accepted").Inc()

	// Nothing more is read from a registered client.
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
	}
	_ = conn.SetReadDeadline(time.Time{})

	if _, err := io.WriteString(conn, okResponse(s.cfg.StreamName, c.metaint)); err != nil {
		c.logger.Debug("failed to send response header", "err", err)
		return
	}

	c.logger.Debug("listener connected", "metadata", req.wantsMetadata, "user_agent", req.header.Get("User-Agent"))
	start := time.Now()

	err = c.stream(ctx)
	c.logger.Debug("listener disconnected", "duration", time.Since(start), "err", err)
}

func (s *Server) reject(conn net.Conn, response, result string) {
	metricConnections.WithLabelValues(result).Inc()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
	}
	_, _ = io.WriteString(conn, response)
}

// stream copies the buffer to the socket until a write fails or ctx ends.
// Writes never cross a metadata boundary, so each metadata frame lands exactly
// metaint audio bytes after the previous one.
func (c *client) stream(ctx context.Context) error {
	buf := make([]byte, streamChunkSize)

	for {
		p := buf
		if c.metaint > 0 && c.untilMeta < len(p) {
			p = p[:c.untilMeta]
		}

		n, next, err := c.buffer.Next(ctx, c.cursor, p)
		if err != nil {
			return nil
		}
		c.cursor = next

		if _, err := c.conn.Write(p[:n]); err != nil {
			return err
		}

		if c.metaint == 0 {
			continue
		}

		c.untilMeta -= n
		if c.untilMeta == 0 {
			if err := c.sendMetadata(); err != nil {
				return err
			}
			c.untilMeta = c.metaint
		}
	}
}

// sendMetadata writes the current packet if this client has not seen it yet,
// otherwise the zero length marker.
func (c *client) sendMetadata() error {
	packet, revision := c.meta.Current()
	if revision == c.lastRevision {
		packet = shoutcast.NoChange
	}

	if _, err := c.conn.Write(packet); err != nil {
		return err
	}
	c.lastRevision = revision
	return nil
}
