package encoder

import (
	"flag"
	"fmt"

	"github.com/zachfi/zkit/pkg/util"
)

// ChannelMode selects how stereo input is coded.
type ChannelMode string

const (
	ModeJoint  ChannelMode = "joint"
	ModeStereo ChannelMode = "stereo"

	// ModeMono is chosen automatically for single channel input and cannot
	// be configured.
	ModeMono ChannelMode = "mono"
)

const (
	defaultBitrate     = 96
	defaultChannelMode = ModeJoint
)

// Bitrates lists the accepted constant bitrates in kbps.
var Bitrates = []int{8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 192, 224, 256, 320}

type Config struct {
	Bitrate     int         `yaml:"bitrate,omitempty"`
	ChannelMode ChannelMode `yaml:"channel-mode,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Bitrate, util.PrefixConfig(prefix, "bitrate"), defaultBitrate, "MP3 bitrate in kbps.")
	f.StringVar((*string)(&cfg.ChannelMode), util.PrefixConfig(prefix, "channel-mode"), string(defaultChannelMode),
		"Channel mode for stereo input: joint or stereo. Mono input is always encoded as mono.")
}

// DefaultConfig returns the encoder defaults.
func DefaultConfig() Config {
	return Config{
		Bitrate:     defaultBitrate,
		ChannelMode: defaultChannelMode,
	}
}

func (cfg Config) Validate() error {
	if !contains(Bitrates, cfg.Bitrate) {
		return fmt.Errorf("unsupported bitrate %d kbps", cfg.Bitrate)
	}
	switch cfg.ChannelMode {
	case ModeJoint, ModeStereo:
	default:
		return fmt.Errorf("unsupported channel mode %q", cfg.ChannelMode)
	}
	return nil
}

func contains(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
