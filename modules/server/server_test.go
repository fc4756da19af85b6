package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zachfi/minicast/pkg/ring"
	"github.com/zachfi/minicast/pkg/shoutcast"
)

var testLogger = *slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.HeaderTimeout = 2 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg Config) (*Server, *ring.Buffer, *MetadataStore) {
	t.Helper()

	buf := ring.New(cfg.BufferSize)
	meta := NewMetadataStore()

	s, err := New(cfg, buf, meta, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := services.StartAndAwaitRunning(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = services.StopAndAwaitTerminated(context.Background(), s)
	})

	return s, buf, meta
}

func dial(t *testing.T, s *Server, request string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatalf("write request: %v", err)
	}
	return conn
}

// readHeader returns the response header block and a reader positioned at
// the first byte after it.
func readHeader(t *testing.T, conn net.Conn) (string, *bufio.Reader) {
	t.Helper()

	br := bufio.NewReader(conn)
	var header strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v (got %q)", err, header.String()+line)
		}
		header.WriteString(line)
		if line == "\r\n" {
			return header.String(), br
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool, tick func()) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		if tick != nil {
			tick()
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRejectedRequests(t *testing.T) {
	s, _, _ := startServer(t, testConfig())

	tests := []struct {
		name     string
		request  string
		expected string
	}{
		{
			name:     "unsupported method",
			request:  "POST / HTTP/1.0\r\n\r\n",
			expected: responseNotImplemented,
		},
		{
			name:     "malformed request line",
			request:  "hello\r\n\r\n",
			expected: responseNotImplemented,
		},
		{
			name:     "unknown resource",
			request:  "GET /other.mp3 HTTP/1.0\r\nIcy-MetaData: 1\r\n\r\n",
			expected: responseNotFound,
		},
		{
			name:     "request too large",
			request:  "GET / HTTP/1.0\r\nX-Filler: " + strings.Repeat("a", requestBufferSize-len("GET / HTTP/1.0\r\nX-Filler: ")),
			expected: responseNotImplemented,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, s, tc.request)

			got, err := io.ReadAll(conn)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != tc.expected {
				t.Errorf("response = %q, want %q", got, tc.expected)
			}
		})
	}

	if s.Listeners() != 0 {
		t.Errorf("listeners = %d after rejections", s.Listeners())
	}
}

func TestResponseHeader(t *testing.T) {
	cfg := testConfig()
	cfg.StreamName = "Test FM"
	s, _, _ := startServer(t, cfg)

	conn := dial(t, s, "GET / HTTP/1.0\r\n\r\n")
	header, _ := readHeader(t, conn)
	if header != "ICY 200 OK\r\nicy-name: Test FM\r\ncontent-type: audio/mpeg\r\n\r\n" {
		t.Errorf("header = %q", header)
	}

	conn = dial(t, s, "GET / HTTP/1.1\r\nicy-metadata: 1\r\n\r\n")
	header, _ = readHeader(t, conn)
	if !strings.Contains(header, "icy-metaint: 16384\r\n") {
		t.Errorf("header = %q, want icy-metaint", header)
	}
}

func TestAdmissionControl(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionLimit = 2
	s, buf, _ := startServer(t, cfg)

	var accepted []net.Conn
	for i := 0; i < cfg.ConnectionLimit; i++ {
		conn := dial(t, s, "GET / HTTP/1.0\r\n\r\n")
		header, _ := readHeader(t, conn)
		if !strings.HasPrefix(header, "ICY 200 OK\r\n") {
			t.Fatalf("client %d: header = %q", i, header)
		}
		accepted = append(accepted, conn)
	}

	conn := dial(t, s, "GET / HTTP/1.0\r\n\r\n")
	got, _ := io.ReadAll(conn)
	if string(got) != responseUnavailable {
		t.Fatalf("response = %q, want %q", got, responseUnavailable)
	}
	if n := s.Listeners(); n != cfg.ConnectionLimit {
		t.Fatalf("listeners = %d, want %d", n, cfg.ConnectionLimit)
	}

	// The handler notices the hang up once it has audio to write.
	accepted[0].Close()
	waitFor(t, "listener to leave", func() bool { return s.Listeners() == 1 }, func() {
		_, _ = buf.Write(make([]byte, 512))
	})

	conn = dial(t, s, "GET / HTTP/1.0\r\n\r\n")
	header, _ := readHeader(t, conn)
	if !strings.HasPrefix(header, "ICY 200 OK\r\n") {
		t.Fatalf("header after a slot freed = %q", header)
	}
	if n := s.Listeners(); n > cfg.ConnectionLimit {
		t.Fatalf("listeners = %d exceeds limit", n)
	}
}

func TestMetadataFraming(t *testing.T) {
	cfg := testConfig()
	cfg.MetadataInterval = 16
	s, buf, meta := startServer(t, cfg)

	meta.SetTitle("Song A")

	conn := dial(t, s, "GET / HTTP/1.0\r\nIcy-MetaData: 1\r\n\r\n")
	header, br := readHeader(t, conn)
	if !strings.Contains(header, "icy-metaint: 16\r\n") {
		t.Fatalf("header = %q", header)
	}

	audio := make([]byte, 40)
	for i := range audio {
		audio[i] = byte('a' + i%26)
	}
	// Written in pieces that do not line up with the interval.
	for _, piece := range [][]byte{audio[:5], audio[5:23], audio[23:]} {
		if _, err := buf.Write(piece); err != nil {
			t.Fatal(err)
		}
	}

	var expected []byte
	expected = append(expected, audio[:16]...)
	expected = append(expected, shoutcast.EncodeTitle("Song A")...)
	expected = append(expected, audio[16:32]...)
	expected = append(expected, 0)
	expected = append(expected, audio[32:]...)

	got := make([]byte, len(expected))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, expected) {
		t.Errorf("stream = %q\nwant %q", got, expected)
	}
}

func TestRepeatedTitleSentOnce(t *testing.T) {
	cfg := testConfig()
	cfg.MetadataInterval = 8
	s, buf, meta := startServer(t, cfg)

	if !meta.SetTitle("Song A") {
		t.Fatal("first title not stored")
	}
	if meta.SetTitle("Song A") {
		t.Fatal("identical title bumped the revision")
	}

	conn := dial(t, s, "GET / HTTP/1.0\r\nicy-metadata: 1\r\n\r\n")
	_, br := readHeader(t, conn)

	audio := bytes.Repeat([]byte{'x'}, 24)
	_, _ = buf.Write(audio)

	packet := shoutcast.EncodeTitle("Song A")
	expected := append(append([]byte{}, audio[:8]...), packet...)
	expected = append(expected, audio[8:16]...)
	expected = append(expected, 0)
	expected = append(expected, audio[16:24]...)
	expected = append(expected, 0)

	got := make([]byte, len(expected))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, expected) {
		t.Errorf("stream = %q\nwant %q", got, expected)
	}

	// A new title is sent at the next boundary.
	meta.SetTitle("Song B")
	_, _ = buf.Write(audio[:8])

	next := shoutcast.EncodeTitle("Song B")
	got = make([]byte, 8+len(next))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got[8:], next) {
		t.Errorf("metadata = %q, want %q", got[8:], next)
	}
}

func TestStreamWithoutMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.MetadataInterval = 16
	s, buf, meta := startServer(t, cfg)
	meta.SetTitle("ignored")

	conn := dial(t, s, "GET / HTTP/1.0\r\n\r\n")
	header, br := readHeader(t, conn)
	if strings.Contains(header, "icy-metaint") {
		t.Fatalf("header = %q", header)
	}

	audio := bytes.Repeat([]byte("0123456789"), 4)
	_, _ = buf.Write(audio)

	got := make([]byte, len(audio))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("stream = %q, want %q", got, audio)
	}
}

func TestStopClosesListeners(t *testing.T) {
	cfg := testConfig()
	buf := ring.New(cfg.BufferSize)

	s, err := New(cfg, buf, NewMetadataStore(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := services.StartAndAwaitRunning(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, s, "GET / HTTP/1.0\r\n\r\n")
	_, br := readHeader(t, conn)
	if s.Listeners() != 1 {
		t.Fatalf("listeners = %d, want 1", s.Listeners())
	}

	done := make(chan error, 1)
	go func() { done <- services.StopAndAwaitTerminated(context.Background(), s) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// Any read result other than a timeout means the server hung up.
	if _, err := io.ReadAll(br); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Error("connection left open after stop")
		}
	}
	if s.Listeners() != 0 {
		t.Errorf("listeners = %d after stop", s.Listeners())
	}

	if _, err := net.DialTimeout("tcp", s.Addr().String(), time.Second); err == nil {
		t.Error("listening socket still open")
	}
}

func TestBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	cfg := testConfig()
	cfg.Port = l.Addr().(*net.TCPAddr).Port

	s, err := New(cfg, ring.New(cfg.BufferSize), NewMetadataStore(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	if err := services.StartAndAwaitRunning(context.Background(), s); err == nil {
		t.Fatal("expected bind to fail")
	}
}

// flakyListener returns EMFILE from its first few accepts.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return l.Listener.Accept()
}

func TestAcceptErrorsAreRetried(t *testing.T) {
	cfg := testConfig()

	s, err := New(cfg, ring.New(cfg.BufferSize), NewMetadataStore(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	s.listen = func(network, address string) (net.Listener, error) {
		l, err := net.Listen(network, address)
		if err != nil {
			return nil, err
		}
		fl := &flakyListener{Listener: l}
		fl.failures.Store(2)
		return fl, nil
	}

	before := testutil.ToFloat64(metricAcceptErrors)

	if err := services.StartAndAwaitRunning(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = services.StopAndAwaitTerminated(context.Background(), s)
	})

	conn := dial(t, s, "GET / HTTP/1.0\r\n\r\n")
	header, _ := readHeader(t, conn)
	if !strings.HasPrefix(header, "ICY 200 OK\r\n") {
		t.Errorf("header = %q", header)
	}

	if s.State() != services.Running {
		t.Errorf("state = %s, want Running", s.State())
	}
	if got := testutil.ToFloat64(metricAcceptErrors) - before; got != 2 {
		t.Errorf("accept errors = %v, want 2", got)
	}
}
