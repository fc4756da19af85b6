package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	// requestBufferSize bounds the request line plus headers.
	requestBufferSize = 8192

	// publishedResource is the only path served.
	publishedResource = "/"
)

var (
	errNotImplemented = errors.New("not implemented")
	errNotFound       = errors.New("resource not found")
	errIncomplete     = errors.New("connection closed before the request was complete")
)

var headerTerminator = []byte("\r\n\r\n")

type request struct {
	method        string
	resource      string
	header        textproto.MIMEHeader
	wantsMetadata bool
}

// readRequest reads up to the blank line ending the headers. A request that
// does not fit in requestBufferSize is answered as not implemented.
func readRequest(r io.Reader) (*request, error) {
	buf := make([]byte, requestBufferSize)
	n := 0

	for {
		if end := bytes.Index(buf[:n], headerTerminator); end >= 0 {
			return parseRequest(string(buf[:end]))
		}
		if n == len(buf) {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", errNotImplemented, requestBufferSize)
		}

		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if bytes.Contains(buf[:n], headerTerminator) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", errIncomplete, err)
		}
	}
}

func parseRequest(raw string) (*request, error) {
	lines := strings.Split(raw, "\r\n")

	fields := strings.Fields(lines[0])
	if len(fields) < 2 || fields[0] != "GET" {
		return nil, fmt.Errorf("%w: %q", errNotImplemented, lines[0])
	}

	req := &request{
		method:   fields[0],
		resource: fields[1],
		header:   make(textproto.MIMEHeader),
	}
	if req.resource != publishedResource {
		return nil, fmt.Errorf("%w: %q", errNotFound, req.resource)
	}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		req.header.Add(textproto.CanonicalMIMEHeaderKey(key), strings.TrimSpace(value))
	}

	if v := req.header.Get("Icy-Metadata"); v != "" {
		on, err := strconv.Atoi(v)
		req.wantsMetadata = err == nil && on != 0
	}

	return req, nil
}
