package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

var errNotPCM = errors.New("not an integer PCM file")

type pcmDecoder interface {
	PCMBuffer(buf *audio.IntBuffer) (int, error)
}

// pcmTrack reads integer PCM from the go-audio WAV and AIFF decoders.
type pcmTrack struct {
	f   io.Closer
	dec pcmDecoder
	buf *audio.IntBuffer

	channels   int
	sampleRate int
	bitDepth   int
	// 8-bit WAV samples are unsigned.
	unsigned bool
}

func openWAV(f *os.File) (Track, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: WAV format %d", errNotPCM, dec.WavAudioFormat)
	}

	return newPCMTrack(f, dec, dec.Format(), int(dec.BitDepth), dec.BitDepth == 8)
}

func openAIFF(f *os.File) (Track, error) {
	dec := aiff.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid AIFF file")
	}
	dec.ReadInfo()

	return newPCMTrack(f, dec, dec.Format(), int(dec.BitDepth), false)
}

func newPCMTrack(f io.Closer, dec pcmDecoder, format *audio.Format, bitDepth int, unsigned bool) (Track, error) {
	if format == nil || format.NumChannels < 1 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("missing format information")
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", errNotPCM, bitDepth)
	}

	return &pcmTrack{
		f:          f,
		dec:        dec,
		buf:        &audio.IntBuffer{Format: format, SourceBitDepth: bitDepth},
		channels:   format.NumChannels,
		sampleRate: format.SampleRate,
		bitDepth:   bitDepth,
		unsigned:   unsigned,
	}, nil
}

func (t *pcmTrack) Channels() int   { return t.channels }
func (t *pcmTrack) SampleRate() int { return t.sampleRate }

func (t *pcmTrack) Read(p []int16) (int, error) {
	want := len(p) - len(p)%t.channels
	if want == 0 {
		return 0, nil
	}
	if cap(t.buf.Data) < want {
		t.buf.Data = make([]int, want)
	}
	t.buf.Data = t.buf.Data[:want]

	n, err := t.dec.PCMBuffer(t.buf)
	n -= n % t.channels
	if n == 0 {
		if err == nil || err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}

	for i, v := range t.buf.Data[:n] {
		if t.unsigned {
			v -= 128
		}
		p[i] = scale16(int32(v), t.bitDepth)
	}

	return n, nil
}

func (t *pcmTrack) Close() error {
	return t.f.Close()
}
