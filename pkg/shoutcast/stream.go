package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const userAgent = "minicast/icytail"

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *Metadata)

// StatusError is returned by Open when the server rejects the request.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %q", e.Status)
}

// Stream represents an open shoutcast stream.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// Homepage of the server
	URL string

	// Bitrate of the server
	Bitrate int

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Amount of bytes to read before expecting a metadata block
	metaint int

	// Stream metadata
	metadata *Metadata

	// The number of bytes read since last metadata block
	pos int

	br   *bufio.Reader
	conn io.Closer
}

type options struct {
	metadata    bool
	dialTimeout time.Duration
}

// Option configures Open.
type Option func(*options)

// WithMetadata controls whether in-band metadata is requested. It is on by
// default.
func WithMetadata(enabled bool) Option {
	return func(o *options) { o.metadata = enabled }
}

// WithDialTimeout bounds the time spent establishing the connection.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Open connects to an ICY server and reads the response headers. Servers
// answer with an "ICY 200 OK" status line, which net/http does not accept,
// so the request is written on a raw TCP connection.
func Open(ctx context.Context, rawURL string, opts ...Option) (*Stream, error) {
	o := options{metadata: true, dialTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "icy" {
		return nil, fmt.Errorf("unsupported stream URL scheme %q", u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	path := u.RequestURI()

	dialer := &net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.0\r\n", path)
	fmt.Fprintf(&req, "Host: %s\r\n", u.Host)
	fmt.Fprintf(&req, "User-Agent: %s\r\n", userAgent)
	req.WriteString("Accept: */*\r\n")
	if o.metadata {
		req.WriteString("Icy-MetaData: 1\r\n")
	}
	req.WriteString("\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read status line: %w", err)
	}
	code, err := parseStatusLine(line)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if code != 200 {
		conn.Close()
		return nil, &StatusError{Code: code, Status: line}
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		conn.Close()
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	var bitrate int
	if rawBitrate := header.Get("icy-br"); rawBitrate != "" {
		bitrate, err = strconv.Atoi(rawBitrate)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("cannot parse bitrate: %v", err)
		}
	}

	var metaint int
	if rawMetaint := header.Get("icy-metaint"); rawMetaint != "" {
		metaint, err = strconv.Atoi(rawMetaint)
		if err != nil || metaint < 0 {
			conn.Close()
			return nil, fmt.Errorf("cannot parse metaint: %q", rawMetaint)
		}
	}

	return &Stream{
		Name:    header.Get("icy-name"),
		Genre:   header.Get("icy-genre"),
		URL:     header.Get("icy-url"),
		Bitrate: bitrate,
		metaint: metaint,
		br:      br,
		conn:    conn,
	}, nil
}

// parseStatusLine accepts both "ICY 200 OK" and "HTTP/1.x 200 OK".
func parseStatusLine(line string) (int, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || (proto != "ICY" && !strings.HasPrefix(proto, "HTTP/")) {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	rawCode, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(rawCode)
	if err != nil {
		return 0, fmt.Errorf("malformed status code in %q", line)
	}
	return code, nil
}

// MetaInterval returns the metadata interval announced by the server, zero if
// metadata was not negotiated.
func (s *Stream) MetaInterval() int {
	return s.metaint
}

// Metadata returns the most recent metadata received, or nil.
func (s *Stream) Metadata() *Metadata {
	return s.metadata
}

// Read implements the standard Read interface, returning audio bytes only.
func (s *Stream) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if s.metaint == 0 {
		return s.br.Read(buf)
	}

	if s.pos == s.metaint {
		if err := s.readMetadata(); err != nil {
			return 0, err
		}
		s.pos = 0
	}

	// Never read across a metadata boundary.
	if remaining := s.metaint - s.pos; len(buf) > remaining {
		buf = buf[:remaining]
	}

	n, err := s.br.Read(buf)
	s.pos += n
	return n, err
}

func (s *Stream) readMetadata() error {
	length, err := s.br.ReadByte()
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	block := make([]byte, int(length)*16)
	if _, err := io.ReadFull(s.br, block); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if m := NewMetadata(block); !m.Equals(s.metadata) {
		s.metadata = m
		if s.MetadataCallbackFunc != nil {
			s.MetadataCallbackFunc(s.metadata)
		}
	}

	return nil
}

// Close closes the stream
func (s *Stream) Close() error {
	return s.conn.Close()
}
