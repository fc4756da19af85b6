package server

import (
	"flag"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/minicast/pkg/ring"
	"github.com/zachfi/minicast/pkg/shoutcast"
)

const (
	defaultPort            = 8000
	defaultConnectionLimit = 5
	defaultStreamName      = "Minicast live MP3 stream"
	defaultHeaderTimeout   = 10 * time.Second

	// MaxConnectionLimit bounds Config.ConnectionLimit.
	MaxConnectionLimit = 1000

	// MaxStreamNameLength is the longest icy-name sent to listeners.
	MaxStreamNameLength = 63

	minBufferSize = 1024
)

type Config struct {
	Address          string        `yaml:"address,omitempty"`
	Port             int           `yaml:"port"`
	ConnectionLimit  int           `yaml:"connection-limit,omitempty"`
	StreamName       string        `yaml:"stream-name,omitempty"`
	MetadataInterval int           `yaml:"metadata-interval,omitempty"`
	BufferSize       int           `yaml:"buffer-size,omitempty"`
	HeaderTimeout    time.Duration `yaml:"header-timeout,omitempty"`
	Advertise        bool          `yaml:"advertise,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Address, util.PrefixConfig(prefix, "address"), "", "Address to accept listeners on. Empty means all interfaces.")
	f.IntVar(&cfg.Port, util.PrefixConfig(prefix, "port"), defaultPort, "TCP port to accept listeners on.")
	f.IntVar(&cfg.ConnectionLimit, util.PrefixConfig(prefix, "connection-limit"), defaultConnectionLimit,
		"Maximum number of simultaneous listeners.")
	f.StringVar(&cfg.StreamName, util.PrefixConfig(prefix, "stream-name"), defaultStreamName, "Stream name sent as icy-name.")
	f.IntVar(&cfg.MetadataInterval, util.PrefixConfig(prefix, "metadata-interval"), shoutcast.DefaultMetaInterval,
		"Audio bytes between metadata frames for listeners that ask for metadata.")
	f.IntVar(&cfg.BufferSize, util.PrefixConfig(prefix, "buffer-size"), ring.DefaultSize,
		"Bytes of encoded audio kept for listeners. Listeners falling further behind lose audio.")
	f.DurationVar(&cfg.HeaderTimeout, util.PrefixConfig(prefix, "header-timeout"), defaultHeaderTimeout,
		"Time a new connection has to send its request. Zero disables the timeout.")
	f.BoolVar(&cfg.Advertise, util.PrefixConfig(prefix, "advertise"), false, "Announce the stream on the local network over mDNS.")
}

// DefaultConfig returns the network defaults.
func DefaultConfig() Config {
	return Config{
		Port:             defaultPort,
		ConnectionLimit:  defaultConnectionLimit,
		StreamName:       defaultStreamName,
		MetadataInterval: shoutcast.DefaultMetaInterval,
		BufferSize:       ring.DefaultSize,
		HeaderTimeout:    defaultHeaderTimeout,
	}
}

func (cfg Config) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.ConnectionLimit < 1 || cfg.ConnectionLimit > MaxConnectionLimit {
		return fmt.Errorf("connection limit %d must be between 1 and %d", cfg.ConnectionLimit, MaxConnectionLimit)
	}
	if cfg.MetadataInterval < 1 {
		return fmt.Errorf("metadata interval %d must be positive", cfg.MetadataInterval)
	}
	if cfg.BufferSize < minBufferSize {
		return fmt.Errorf("buffer size %d is smaller than %d", cfg.BufferSize, minBufferSize)
	}
	if cfg.HeaderTimeout < 0 {
		return fmt.Errorf("negative header timeout")
	}
	// The name is sent verbatim as a header line.
	if strings.ContainsFunc(cfg.StreamName, unicode.IsControl) {
		return fmt.Errorf("stream name %q contains control characters", cfg.StreamName)
	}
	return nil
}

// ClipStreamName shortens name to MaxStreamNameLength bytes without splitting
// a UTF-8 sequence.
func ClipStreamName(name string) string {
	if len(name) <= MaxStreamNameLength {
		return name
	}
	n := MaxStreamNameLength
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}
