package engine

import (
	"errors"
	"flag"
	"fmt"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/minicast/modules/encoder"
	"github.com/zachfi/minicast/modules/server"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid engine configuration")

type Config struct {
	Encoder encoder.Config `yaml:"encoder,omitempty"`
	Network server.Config  `yaml:"network,omitempty"`

	// StateFile, when set, persists configuration changes made at runtime.
	// It is read once at startup and cannot be changed through SetConfig.
	StateFile string `yaml:"state-file,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Encoder.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "encoder"), f)
	cfg.Network.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "network"), f)
	f.StringVar(&cfg.StateFile, util.PrefixConfig(prefix, "state-file"), "",
		"File the engine configuration is loaded from at startup and saved to after runtime changes.")
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Encoder: encoder.DefaultConfig(),
		Network: server.DefaultConfig(),
	}
}

func (cfg Config) Validate() error {
	if err := cfg.Encoder.Validate(); err != nil {
		return fmt.Errorf("%w: encoder: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Network.Validate(); err != nil {
		return fmt.Errorf("%w: network: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.Network.StreamName = server.ClipStreamName(cfg.Network.StreamName)
}
