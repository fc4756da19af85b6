package shoutcast

// FrameSync returns the offset of the first MPEG audio frame sync word in
// data: 0xFF followed by a byte with its high three bits set. It returns -1
// if there is none.
func FrameSync(data []byte) int {
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && data[i+1]&0xE0 == 0xE0 {
			return i
		}
	}
	return -1
}
