package shoutcast

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ParsePLS parses a PLS playlist and returns its entries in order.
func ParsePLS(body io.Reader) ([]string, error) {
	var entries []string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "File") && strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if entry := strings.TrimSpace(parts[1]); entry != "" {
				entries = append(entries, entry)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries found in PLS playlist")
	}

	return entries, nil
}

// ParseM3U parses an M3U playlist and returns its entries in order.
func ParseM3U(body io.Reader) ([]string, error) {
	var entries []string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries found in M3U playlist")
	}

	return entries, nil
}

// LoadPlaylist reads a .pls or .m3u/.m3u8 file. Relative entries are resolved
// against the playlist's directory.
func LoadPlaylist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pls":
		entries, err = ParsePLS(f)
	case ".m3u", ".m3u8":
		entries, err = ParseM3U(f)
	default:
		return nil, fmt.Errorf("unsupported playlist format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i, entry := range entries {
		if strings.Contains(entry, "://") || filepath.IsAbs(entry) {
			continue
		}
		entries[i] = filepath.Join(dir, entry)
	}

	return entries, nil
}
