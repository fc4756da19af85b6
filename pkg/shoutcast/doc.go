// Package shoutcast implements the ICY (Shoutcast) wire conventions used by
// minicast.
//
// It started as a fork of github.com/romantomjak/shoutcast and now covers both
// sides of the protocol:
//   - Metadata packets: rendering the in-band StreamTitle block sent to
//     listeners, and parsing it back on the client side
//   - Stream: a raw TCP ICY client that strips metadata blocks so only audio
//     bytes are returned, reporting title changes through a callback
//   - Playlist parsing: .pls and .m3u files resolved to their entries
//   - FrameSync: locating the first MPEG frame in a byte stream
package shoutcast
