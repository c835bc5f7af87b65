// File: httpcore/response.go
//
// HTTP/1.1 response serialization. Responses are assembled into a pooled
// buffer and handed to the transport in a single Write, so concurrent
// responses on pipelined connections stay byte-ordered.

package httpcore

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/h1wire/h1wire/api"
)

var (
	statusLine200       = []byte("HTTP/1.1 200 OK\r\n")
	headerContentLength = []byte("content-length: ")
	headerConnection    = []byte("connection: ")
	headerKeepAlive     = []byte("keep-alive\r\n")
	headerClose         = []byte("close\r\n")
	headerChunked       = []byte("transfer-encoding: chunked\r\n")
	headerSep           = []byte(": ")
	respCRLF            = []byte("\r\n")
	chunkEnd            = []byte("0\r\n\r\n")

	responseBufPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}
)

// responseWriter is bound to one processor for one request. The endResponse
// call triggers keep-alive re-arm or close; writing after that is an error.
type responseWriter struct {
	proc *Processor

	mu          sync.Mutex
	keepAlive   bool
	headersSent bool
	chunked     bool
	done        bool
}

func (w *responseWriter) WriteResponse(status int, headers [][2]string, body []byte, endResponse bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return fmt.Errorf("%w: response already completed", api.ErrSocketClosed)
	}

	bufPtr := responseBufPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	headEmitted := false
	if !w.headersSent {
		buf = w.appendHead(buf, status, headers, body, endResponse)
		w.headersSent = true
		headEmitted = true
	}

	if len(body) > 0 {
		switch {
		case w.chunked:
			buf = appendChunk(buf, body)
		case headEmitted && endResponse:
			// Body already serialized inline by appendHead.
		default:
			buf = append(buf, body...)
		}
	}

	if endResponse && w.chunked {
		buf = append(buf, chunkEnd...)
	}

	err := w.proc.conn.Write(buf)
	*bufPtr = buf[:0]
	responseBufPool.Put(bufPtr)

	if err != nil {
		w.done = true
		w.proc.conn.PrepareToClose()
		return err
	}
	if endResponse {
		w.done = true
		w.proc.finishResponse()
	}
	return nil
}

// appendHead assembles the status line and header block, choosing between
// content-length and chunked framing.
func (w *responseWriter) appendHead(buf []byte, status int, headers [][2]string, body []byte, endResponse bool) []byte {
	if status == 200 {
		buf = append(buf, statusLine200...)
	} else {
		buf = append(buf, "HTTP/1.1 "...)
		buf = strconv.AppendInt(buf, int64(status), 10)
		buf = append(buf, ' ')
		buf = append(buf, statusText(status)...)
		buf = append(buf, respCRLF...)
	}

	hasContentLength := false
	for _, h := range headers {
		if h[0] == "content-length" {
			hasContentLength = true
		}
		buf = append(buf, h[0]...)
		buf = append(buf, headerSep...)
		buf = append(buf, h[1]...)
		buf = append(buf, respCRLF...)
	}

	switch {
	case endResponse && !hasContentLength:
		buf = append(buf, headerContentLength...)
		buf = strconv.AppendInt(buf, int64(len(body)), 10)
		buf = append(buf, respCRLF...)
	case !endResponse && !hasContentLength:
		w.chunked = true
		buf = append(buf, headerChunked...)
	}

	buf = append(buf, headerConnection...)
	if w.keepAlive {
		buf = append(buf, headerKeepAlive...)
	} else {
		buf = append(buf, headerClose...)
	}
	buf = append(buf, respCRLF...)

	if endResponse && !w.chunked && len(body) > 0 {
		buf = append(buf, body...)
	}
	return buf
}

func appendChunk(buf, body []byte) []byte {
	var tmp [32]byte
	size := strconv.AppendInt(tmp[:0], int64(len(body)), 16)
	buf = append(buf, size...)
	buf = append(buf, respCRLF...)
	buf = append(buf, body...)
	buf = append(buf, respCRLF...)
	return buf
}

// errorResponse builds a complete synthesized error response. Used for
// transport-level failures where no request ever reaches the application.
func errorResponse(status int) []byte {
	text := statusText(status)
	buf := make([]byte, 0, 128)
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(status), 10)
	buf = append(buf, ' ')
	buf = append(buf, text...)
	buf = append(buf, respCRLF...)
	buf = append(buf, "content-type: text/plain; charset=utf-8\r\n"...)
	buf = append(buf, headerContentLength...)
	buf = strconv.AppendInt(buf, int64(len(text)), 10)
	buf = append(buf, respCRLF...)
	buf = append(buf, headerConnection...)
	buf = append(buf, headerClose...)
	buf = append(buf, respCRLF...)
	buf = append(buf, text...)
	return buf
}

// statusText returns the reason phrase for common status codes.
func statusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Payload Too Large"
	case 426:
		return "Upgrade Required"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}
