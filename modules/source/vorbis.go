package source

import (
	"os"

	"github.com/jfreymuth/oggvorbis"
)

type vorbisTrack struct {
	f   *os.File
	dec *oggvorbis.Reader
	buf []float32
}

func openVorbis(f *os.File) (Track, error) {
	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, err
	}
	return &vorbisTrack{f: f, dec: dec}, nil
}

func (t *vorbisTrack) Channels() int   { return t.dec.Channels() }
func (t *vorbisTrack) SampleRate() int { return t.dec.SampleRate() }

func (t *vorbisTrack) Read(p []int16) (int, error) {
	want := len(p) - len(p)%t.dec.Channels()
	if want == 0 {
		return 0, nil
	}
	if cap(t.buf) < want {
		t.buf = make([]float32, want)
	}
	buf := t.buf[:want]

	n, err := t.dec.Read(buf)
	for i, v := range buf[:n] {
		p[i] = clamp16(int32(v * 32767))
	}
	if n > 0 {
		return n, nil
	}
	return 0, err
}

func (t *vorbisTrack) Close() error {
	return t.f.Close()
}
