package encoder

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for sample blocks the encoder cannot take.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrNotRunning is returned when samples are submitted while the
	// encoding pipeline is stopped.
	ErrNotRunning = errors.New("encoder is not running")
)

// SupportedSampleRates are the MPEG-1, MPEG-2 and MPEG-2.5 sampling rates.
var SupportedSampleRates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000}

// Format describes interleaved 16-bit PCM.
type Format struct {
	Channels   int
	SampleRate int
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz/%dch", f.SampleRate, f.Channels)
}

// ValidateFormat returns ErrUnsupportedFormat unless channels is 1 or 2 and
// sampleRate is one of SupportedSampleRates.
func ValidateFormat(channels, sampleRate int) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	if !contains(SupportedSampleRates, sampleRate) {
		return fmt.Errorf("%w: %d Hz", ErrUnsupportedFormat, sampleRate)
	}
	return nil
}
