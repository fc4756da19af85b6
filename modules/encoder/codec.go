package encoder

// Params are the settings a codec session is opened with.
type Params struct {
	SampleRate int
	Channels   int
	Bitrate    int
	Mode       ChannelMode
}

// StreamInfo is what a codec reports when a session is opened.
type StreamInfo struct {
	// ChunkSamples is the number of interleaved values EncodeChunk expects.
	// Only the final chunk of a session may be shorter.
	ChunkSamples int

	// OutputSize is the most bytes a single EncodeChunk call returns.
	OutputSize int

	// FixedSettings is set by codecs that choose their own bitrate and
	// channel mode, ignoring Params.Bitrate and Params.Mode.
	FixedSettings bool
}

// Codec is an MP3 bitstream encoder. One value serves one session.
type Codec interface {
	InitStream(p Params) (StreamInfo, error)

	// EncodeChunk may legitimately return no bytes while the codec is
	// buffering internally.
	EncodeChunk(samples []int16) ([]byte, error)

	// FinalizeStream returns whatever the codec still holds.
	FinalizeStream() ([]byte, error)

	Close() error
}

// CodecFactory returns a fresh codec for a new session.
type CodecFactory func() Codec

func sessionParams(cfg Config, f Format) Params {
	mode := cfg.ChannelMode
	if f.Channels == 1 {
		mode = ModeMono
	}

	return Params{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Bitrate:    cfg.Bitrate,
		Mode:       mode,
	}
}
