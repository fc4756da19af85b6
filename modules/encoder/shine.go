package encoder

import (
	"bytes"
	"fmt"

	mp3encoder "github.com/braheezy/shine-mp3/pkg/mp3"
)

// shineFrameSamples is one MPEG-1 frame, or two MPEG-2/2.5 frames, per channel.
const shineFrameSamples = 1152

// ShineCodec encodes with the pure Go shine encoder.
//
// shine always runs in stereo here: its mono path advances through the input
// at the stereo stride, so mono input is duplicated onto both channels.
// shine picks its own constant bitrate; Params.Bitrate is not applied.
type ShineCodec struct {
	enc      *mp3encoder.Encoder
	channels int
	chunk    int

	stereo []int16
	out    bytes.Buffer
}

// NewShineCodec is a CodecFactory for ShineCodec.
func NewShineCodec() Codec {
	return &ShineCodec{}
}

func (c *ShineCodec) InitStream(p Params) (StreamInfo, error) {
	if err := ValidateFormat(p.Channels, p.SampleRate); err != nil {
		return StreamInfo{}, err
	}

	c.enc = mp3encoder.NewEncoder(p.SampleRate, 2)
	if c.enc == nil {
		return StreamInfo{}, fmt.Errorf("shine rejected %d Hz", p.SampleRate)
	}
	c.channels = p.Channels
	c.chunk = shineFrameSamples * p.Channels
	c.stereo = make([]int16, shineFrameSamples*2)

	return StreamInfo{
		ChunkSamples:  c.chunk,
		OutputSize:    5*shineFrameSamples/4 + 7200,
		FixedSettings: true,
	}, nil
}

func (c *ShineCodec) EncodeChunk(samples []int16) ([]byte, error) {
	if c.enc == nil {
		return nil, fmt.Errorf("codec stream not initialized")
	}
	if len(samples) > c.chunk {
		return nil, fmt.Errorf("chunk of %d samples exceeds %d", len(samples), c.chunk)
	}

	// A short final chunk is padded with silence to a whole frame.
	frames := len(samples) / c.channels
	if c.channels == 1 {
		for i, s := range samples {
			c.stereo[2*i] = s
			c.stereo[2*i+1] = s
		}
	} else {
		copy(c.stereo, samples[:frames*2])
	}
	clear(c.stereo[frames*2:])

	c.out.Reset()
	if err := c.enc.Write(&c.out, c.stereo); err != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", err)
	}

	return bytes.Clone(c.out.Bytes()), nil
}

func (c *ShineCodec) FinalizeStream() ([]byte, error) {
	// Every chunk is written out as whole frames; nothing is held back.
	return nil, nil
}

func (c *ShineCodec) Close() error {
	c.enc = nil
	c.stereo = nil
	return nil
}
