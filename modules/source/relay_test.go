package source

import (
	"bufio"
	"bytes"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zachfi/minicast/modules/encoder"
	"github.com/zachfi/minicast/pkg/shoutcast"
)

const relayMetaint = 1024

// encodedSilence returns about half a second of 44.1 kHz stereo MP3.
func encodedSilence(t *testing.T) []byte {
	t.Helper()

	codec := encoder.NewShineCodec()
	defer codec.Close()

	info, err := codec.InitStream(encoder.Params{SampleRate: 44100, Channels: 2, Bitrate: 128, Mode: encoder.ModeJoint})
	if err != nil {
		t.Fatalf("InitStream: %v", err)
	}

	var out bytes.Buffer
	chunk := make([]int16, info.ChunkSamples)
	for i := 0; i < 20; i++ {
		b, err := codec.EncodeChunk(chunk)
		if err != nil {
			t.Fatalf("EncodeChunk: %v", err)
		}
		out.Write(b)
	}
	tail, err := codec.FinalizeStream()
	if err != nil {
		t.Fatal(err)
	}
	out.Write(tail)

	return out.Bytes()
}

// serveICY answers every connection with audio, announcing title in the
// first metadata block, then hangs up.
func serveICY(t *testing.T, name, title string, audio []byte) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()

				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					if line == "\r\n" {
						break
					}
				}

				w := bufio.NewWriter(conn)
				w.WriteString("ICY 200 OK\r\nicy-name: " + name + "\r\ncontent-type: audio/mpeg\r\n")
				w.WriteString("icy-metaint: 1024\r\n\r\n")

				meta := shoutcast.EncodeTitle(title)
				for off := 0; off < len(audio); off += relayMetaint {
					end := min(off+relayMetaint, len(audio))
					w.Write(audio[off:end])
					if end-off == relayMetaint {
						w.Write(meta)
						meta = []byte{0}
					}
				}
				w.Flush()
			}(conn)
		}
	}()

	return "icy://" + ln.Addr().String() + "/"
}

func TestRelayForwardsAudioAndTitles(t *testing.T) {
	url := serveICY(t, "Remote Radio", "Remote Artist - Song", encodedSilence(t))

	cfg := testConfig(url)
	cfg.ReconnectBackoff = 10 * time.Millisecond
	cfg.ReconnectBackoffMax = 20 * time.Millisecond
	cfg.ReconnectRetries = 1

	sink := &fakeSink{}
	startSource(t, cfg, sink)

	waitFor(t, "relayed audio", func() bool {
		titles, _, n := sink.state()
		return n >= 10000 && slices.Contains(titles, "Remote Artist - Song")
	})

	titles, formats, _ := sink.state()
	if titles[0] != "Remote Radio" {
		t.Errorf("first title = %q, want the station name", titles[0])
	}
	if formats[0] != (encoder.Format{Channels: 2, SampleRate: 44100}) {
		t.Errorf("format = %v", formats[0])
	}
}

func TestRelayGivesUpOnDeadServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig("http://" + addr + "/")
	cfg.ReconnectBackoff = time.Millisecond
	cfg.ReconnectBackoffMax = 2 * time.Millisecond
	cfg.ReconnectRetries = 2

	s, err := New(cfg, &fakeSink{}, testLogger)
	if err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(metricReconnects)

	if err := s.relay(t.Context(), cfg.Playlist); err == nil {
		t.Fatal("expected relay to give up")
	}
	if got := testutil.ToFloat64(metricReconnects) - before; got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
}
