package source

import "math"

const (
	toneTitle     = "Test tone"
	toneFrequency = 440.0
	toneRate      = 44100
	toneAmplitude = 0.25
)

// Tone is an endless stereo sine wave.
type Tone struct {
	frequency  float64
	sampleRate int
	phase      float64
}

func NewTone(frequency float64, sampleRate int) *Tone {
	return &Tone{frequency: frequency, sampleRate: sampleRate}
}

func (t *Tone) Channels() int   { return 2 }
func (t *Tone) SampleRate() int { return t.sampleRate }

func (t *Tone) Read(p []int16) (int, error) {
	step := 2 * math.Pi * t.frequency / float64(t.sampleRate)
	n := len(p) - len(p)%2

	for i := 0; i < n; i += 2 {
		v := int16(math.Sin(t.phase) * toneAmplitude * math.MaxInt16)
		p[i], p[i+1] = v, v

		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}

	return n, nil
}

func (t *Tone) Close() error { return nil }
