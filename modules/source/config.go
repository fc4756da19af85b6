package source

import (
	"flag"
	"fmt"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultBlockDuration    = 100 * time.Millisecond
	defaultReconnectInitial = 5 * time.Second
	defaultReconnectMax     = 60 * time.Second
	defaultReconnectRetries = 10
)

type Config struct {
	// Playlist is a .m3u/.pls file or a directory of audio files. When empty
	// a test tone is played.
	Playlist string `yaml:"playlist,omitempty"`
	Loop     bool   `yaml:"loop,omitempty"`

	BlockDuration time.Duration `yaml:"block-duration,omitempty"`

	// Reconnect settings for http:// and icy:// playlist entries.
	ReconnectBackoff    time.Duration `yaml:"reconnect-backoff,omitempty"`
	ReconnectBackoffMax time.Duration `yaml:"reconnect-backoff-max,omitempty"`
	ReconnectRetries    int           `yaml:"reconnect-retries,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Playlist, util.PrefixConfig(prefix, "playlist"), "", "Playlist file (.m3u, .pls) or directory to play. A test tone is played when empty.")
	f.BoolVar(&cfg.Loop, util.PrefixConfig(prefix, "loop"), false, "Start over when the playlist ends.")
	f.DurationVar(&cfg.BlockDuration, util.PrefixConfig(prefix, "block-duration"), defaultBlockDuration, "Duration of audio delivered to the encoder per block.")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), defaultReconnectInitial,
		"Initial delay before reconnecting to a remote stream. Exponential backoff is used up to reconnect-backoff-max.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), defaultReconnectMax,
		"Maximum delay between reconnection attempts.")
	f.IntVar(&cfg.ReconnectRetries, util.PrefixConfig(prefix, "reconnect-retries"), defaultReconnectRetries,
		"Consecutive failed connections before a remote stream is skipped.")
}

// DefaultConfig returns the source defaults.
func DefaultConfig() Config {
	return Config{
		BlockDuration:       defaultBlockDuration,
		ReconnectBackoff:    defaultReconnectInitial,
		ReconnectBackoffMax: defaultReconnectMax,
		ReconnectRetries:    defaultReconnectRetries,
	}
}

func (cfg Config) Validate() error {
	if cfg.BlockDuration < time.Millisecond || cfg.BlockDuration > 10*time.Second {
		return fmt.Errorf("block duration %s out of range", cfg.BlockDuration)
	}
	if cfg.ReconnectBackoff <= 0 || cfg.ReconnectBackoffMax < cfg.ReconnectBackoff {
		return fmt.Errorf("invalid reconnect backoff %s..%s", cfg.ReconnectBackoff, cfg.ReconnectBackoffMax)
	}
	if cfg.ReconnectRetries < 1 {
		return fmt.Errorf("reconnect retries must be positive")
	}
	return nil
}
