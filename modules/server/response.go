package server

import (
	"fmt"
	"strings"
)

const (
	responseNotImplemented = "HTTP/1.0 501 Not Implemented\r\n\r\n"
	responseNotFound       = "HTTP/1.0 404 Not Found\r\n\r\n"
	responseUnavailable    = "ICY 503 Service Unavailable\r\n\r\n"
)

// okResponse renders the header block sent before the audio. metaint is
// omitted when zero.
func okResponse(name string, metaint int) string {
	var b strings.Builder
	b.WriteString("ICY 200 OK\r\n")
	fmt.Fprintf(&b, "icy-name: %s\r\n", name)
	b.WriteString("content-type: audio/mpeg\r\n")
	if metaint > 0 {
		fmt.Fprintf(&b, "icy-metaint: %d\r\n", metaint)
	}
	b.WriteString("\r\n")
	return b.String()
}
