package source

import (
	"encoding/binary"
	"io"
	"os"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// mp3Track decodes MPEG audio. go-mp3 always produces 16-bit stereo.
type mp3Track struct {
	c   io.Closer
	dec *gomp3.Decoder
	buf []byte
}

func openMP3(f *os.File) (Track, error) {
	t, err := newMP3Track(f, f)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newMP3Track(r io.Reader, c io.Closer) (*mp3Track, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &mp3Track{c: c, dec: dec}, nil
}

func (t *mp3Track) Channels() int   { return 2 }
func (t *mp3Track) SampleRate() int { return t.dec.SampleRate() }

func (t *mp3Track) Read(p []int16) (int, error) {
	want := len(p) / 2 * 4
	if want == 0 {
		return 0, nil
	}
	if cap(t.buf) < want {
		t.buf = make([]byte, want)
	}
	buf := t.buf[:want]

	n, err := io.ReadFull(t.dec, buf)
	n -= n % 4
	for i := 0; i < n/2; i++ {
		p[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}

	if n > 0 {
		return n / 2, nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return 0, err
}

func (t *mp3Track) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}
