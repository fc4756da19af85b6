package shoutcast

import "testing"

func TestFrameSync(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{name: "empty", data: nil, want: -1},
		{name: "single byte", data: []byte{0xFF}, want: -1},
		{name: "at start", data: []byte{0xFF, 0xFB, 0x90}, want: 0},
		{name: "after junk", data: []byte{0x00, 0x49, 0xFF, 0xE3}, want: 2},
		{name: "ff without sync bits", data: []byte{0xFF, 0x7F, 0xFF, 0xF3}, want: 2},
		{name: "trailing ff", data: []byte{0x01, 0x02, 0xFF}, want: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FrameSync(tc.data); got != tc.want {
				t.Errorf("FrameSync = %d, want %d", got, tc.want)
			}
		})
	}
}
