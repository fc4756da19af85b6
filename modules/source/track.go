package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var errUnknownExtension = errors.New("unknown audio file extension")

// Track produces interleaved 16-bit PCM.
type Track interface {
	Channels() int
	SampleRate() int

	// Read fills p with whole frames and returns the number of samples
	// written. It returns io.EOF once the track is exhausted.
	Read(p []int16) (int, error)

	io.Closer
}

type trackOpener func(f *os.File) (Track, error)

var openers = map[string]trackOpener{
	".mp3":  openMP3,
	".wav":  openWAV,
	".aif":  openAIFF,
	".aiff": openAIFF,
	".ogg":  openVorbis,
	".oga":  openVorbis,
	".flac": openFLAC,
}

// Playable reports whether path has an extension OpenFile can decode.
func Playable(path string) bool {
	_, ok := openers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// OpenFile opens a local audio file, choosing the decoder by extension.
func OpenFile(path string) (Track, error) {
	open, ok := openers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownExtension, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	t, err := open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return t, nil
}

// TitleFor derives a "now playing" title from a file name, so
// "Artist - Title.mp3" becomes "Artist - Title".
func TitleFor(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// scale16 converts a sample of the given bit depth to 16 bits.
func scale16(v int32, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(v << (16 - bitDepth))
	}
	return int16(v)
}
