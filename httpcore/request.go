// File: httpcore/request.go
// Package httpcore turns a byte stream into discrete HTTP/1.1 messages and
// drives the per-connection protocol state machine. It owns no socket I/O;
// the transport layer feeds it buffered bytes and carries its output.

package httpcore

import "strings"

// Request is a fully parsed HTTP/1.1 request as handed to the application.
type Request struct {
	Method  string
	Target  string
	Proto   string
	Host    string
	Headers [][2]string // lowercased names, order preserved

	ContentLength int64 // -1 when absent or chunked
	Chunked       bool
	Body          []byte

	// KeepAlive is the client's own request for reuse, derived from the
	// protocol version default and any explicit Connection header. The
	// processor combines it with the request budget and upgrade state.
	KeepAlive bool

	// Upgrade reports a Connection: Upgrade + Upgrade header pair.
	Upgrade bool
}

// Header returns the first value of the named header, case-insensitively.
func (r *Request) Header(name string) string {
	name = strings.ToLower(name)
	for _, h := range r.Headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

// Reset clears the request for reuse.
func (r *Request) Reset() {
	r.Method = ""
	r.Target = ""
	r.Proto = ""
	r.Host = ""
	r.Headers = r.Headers[:0]
	r.ContentLength = -1
	r.Chunked = false
	r.Body = nil
	r.KeepAlive = false
	r.Upgrade = false
}

// Clone returns a standalone copy safe to retain after the parser resets.
func (r *Request) Clone() *Request {
	out := *r
	out.Headers = make([][2]string, len(r.Headers))
	copy(out.Headers, r.Headers)
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return &out
}
