package shoutcast

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMetaInterval is the number of audio bytes between two metadata
	// blocks, about one second at 128 kbps.
	DefaultMetaInterval = 16384

	// MaxMetadataSize is the largest metadata block: one length byte
	// followed by at most 255 sixteen-byte units.
	MaxMetadataSize = 1 + 255*16

	titlePrefix = "StreamTitle='"
	titleSuffix = "';"

	// MaxTitleLength is the longest title that fits in a metadata block.
	MaxTitleLength = MaxMetadataSize - 1 - len(titlePrefix) - len(titleSuffix)
)

// NoChange is the metadata block telling a listener the title is unchanged.
var NoChange = []byte{0}

// EncodeTitle renders a metadata block announcing title. The block is a length
// byte L followed by 16*L bytes holding StreamTitle='<title>'; padded with
// zeros. Titles longer than MaxTitleLength are clipped on a rune boundary.
func EncodeTitle(title string) []byte {
	title = clip(title, MaxTitleLength)

	text := titlePrefix + title + titleSuffix
	units := (len(text) + 15) / 16

	packet := make([]byte, 1+units*16)
	packet[0] = byte(units)
	copy(packet[1:], text)

	return packet
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// Metadata is the parsed content of a metadata block.
type Metadata struct {
	StreamTitle string
	StreamURL   string
}

// NewMetadata parses the content of a metadata block, without its length
// byte. Trailing zero padding is ignored.
func NewMetadata(b []byte) *Metadata {
	b = bytes.TrimRight(b, "\x00")

	m := &Metadata{}
	for _, field := range splitFields(string(b)) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		value = strings.TrimSuffix(strings.TrimPrefix(value, "'"), "'")

		switch key {
		case "StreamTitle":
			m.StreamTitle = value
		case "StreamUrl":
			m.StreamURL = value
		}
	}

	return m
}

// splitFields splits key='value'; pairs. A value may itself contain ';', so a
// field only ends at a quote followed by a semicolon.
func splitFields(s string) []string {
	var fields []string
	for s != "" {
		i := strings.Index(s, "';")
		if i < 0 {
			fields = append(fields, s)
			break
		}
		fields = append(fields, s[:i+1])
		s = s[i+2:]
	}
	return fields
}

// Equals reports whether m and other describe the same metadata.
func (m *Metadata) Equals(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.StreamTitle == other.StreamTitle && m.StreamURL == other.StreamURL
}
