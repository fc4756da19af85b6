package source

import (
	"fmt"
	"os"

	"github.com/mewkiz/flac"
)

type flacTrack struct {
	f        *os.File
	stream   *flac.Stream
	channels int
	bitDepth int

	// Interleaved samples of the current frame not yet returned.
	pending []int16
}

func openFLAC(f *os.File) (Track, error) {
	stream, err := flac.New(f)
	if err != nil {
		return nil, err
	}

	info := stream.Info
	if info.NChannels < 1 || info.SampleRate == 0 {
		return nil, fmt.Errorf("missing stream information")
	}

	return &flacTrack{
		f:        f,
		stream:   stream,
		channels: int(info.NChannels),
		bitDepth: int(info.BitsPerSample),
	}, nil
}

func (t *flacTrack) Channels() int   { return t.channels }
func (t *flacTrack) SampleRate() int { return int(t.stream.Info.SampleRate) }

func (t *flacTrack) Read(p []int16) (int, error) {
	want := len(p) - len(p)%t.channels
	n := 0

	for n < want {
		if len(t.pending) == 0 {
			frame, err := t.stream.ParseNext()
			if err != nil {
				if n > 0 {
					return n, nil
				}
				return 0, err
			}

			blockSize := int(frame.BlockSize)
			t.pending = t.pending[:0]
			for i := 0; i < blockSize; i++ {
				for ch := 0; ch < t.channels; ch++ {
					t.pending = append(t.pending, scale16(frame.Subframes[ch].Samples[i], t.bitDepth))
				}
			}
		}

		c := copy(p[n:want], t.pending)
		t.pending = t.pending[c:]
		n += c
	}

	return n, nil
}

func (t *flacTrack) Close() error {
	return t.f.Close()
}
