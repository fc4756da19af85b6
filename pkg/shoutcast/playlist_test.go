package shoutcast

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParsePLS(t *testing.T) {
	body := `[playlist]
NumberOfEntries=2
File1=one.mp3
Title1=One
File2=/music/two.flac
Version=2
`
	got, err := ParsePLS(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParsePLS: %v", err)
	}
	want := []string{"one.mp3", "/music/two.flac"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParsePLS = %v, want %v", got, want)
	}

	if _, err := ParsePLS(strings.NewReader("[playlist]\n")); err == nil {
		t.Error("expected error for empty playlist")
	}
}

func TestParseM3U(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:123,Artist - One\none.mp3\n\nhttp://example.com/stream\n"
	got, err := ParseM3U(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseM3U: %v", err)
	}
	want := []string{"one.mp3", "http://example.com/stream"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseM3U = %v, want %v", got, want)
	}
}

func TestLoadPlaylist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.m3u")
	if err := os.WriteFile(path, []byte("a.wav\n/abs/b.mp3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPlaylist(path)
	if err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	want := []string{filepath.Join(dir, "a.wav"), "/abs/b.mp3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadPlaylist = %v, want %v", got, want)
	}

	if _, err := LoadPlaylist(filepath.Join(dir, "list.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
