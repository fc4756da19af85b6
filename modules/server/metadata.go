package server

import (
	"bytes"
	"sync"

	"github.com/zachfi/minicast/pkg/shoutcast"
)

// MetadataStore holds the rendered "now playing" packet. The revision only
// moves when the rendered bytes change, so handlers compare revisions instead
// of packet contents.
type MetadataStore struct {
	mu       sync.Mutex
	title    string
	packet   []byte
	revision uint64
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{packet: shoutcast.NoChange}
}

// SetTitle renders title and reports whether the packet changed.
func (m *MetadataStore) SetTitle(title string) bool {
	packet := shoutcast.EncodeTitle(title)

	m.mu.Lock()
	defer m.mu.Unlock()

	if bytes.Equal(packet, m.packet) {
		return false
	}
	m.title = title
	m.packet = packet
	m.revision++
	return true
}

// Current returns the packet and its revision. The packet must not be
// modified.
func (m *MetadataStore) Current() ([]byte, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packet, m.revision
}

func (m *MetadataStore) Title() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.title
}
