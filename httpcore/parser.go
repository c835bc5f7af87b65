// File: httpcore/parser.go
//
// Incremental HTTP/1.1 request parser. Feed accepts whatever fragment of
// the stream is currently buffered and reports how much of it was consumed;
// the caller re-feeds the remainder (plus newly arrived bytes) later. The
// parser never consumes part of a header block: headers are taken all at
// once when the terminating CRLF CRLF is visible, so a failed feed leaves
// the buffer untouched.

package httpcore

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/h1wire/h1wire/api"
)

// ParseStatus is the result of one Feed call.
type ParseStatus struct {
	BytesConsumed  int
	BytesRemaining int
	Err            error

	MessageComplete    bool
	UpgradeRequested   bool
	KeepAliveRequested bool
}

type parsePhase int

const (
	phaseHeaders parsePhase = iota
	phaseBody
	phaseChunkSize
	phaseChunkData
	phaseChunkDataCRLF
	phaseTrailer
	phaseDone
)

// DefaultMaxHeaderBytes bounds the size of a request's header block.
const DefaultMaxHeaderBytes = 8192

// maxChunkSizeLine bounds a chunk-size line including extensions.
const maxChunkSizeLine = 256

var crlf = []byte("\r\n")
var crlfcrlf = []byte("\r\n\r\n")

// Parser holds the in-progress state of a single HTTP/1.1 message. It is
// re-initialized by Reset between messages on the same connection.
type Parser struct {
	req            Request
	phase          parsePhase
	bodyRemain     int64
	chunkRemain    int64
	maxHeaderBytes int
}

// NewParser creates a parser. maxHeaderBytes <= 0 selects
// DefaultMaxHeaderBytes.
func NewParser(maxHeaderBytes int) *Parser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	p := &Parser{maxHeaderBytes: maxHeaderBytes}
	p.req.ContentLength = -1
	return p
}

// Reset prepares the parser for the next message on the connection.
func (p *Parser) Reset() {
	p.req.Reset()
	p.phase = phaseHeaders
	p.bodyRemain = 0
	p.chunkRemain = 0
}

// Request returns the message being parsed. Fields are complete only after
// a Feed reported MessageComplete, and remain valid until the next Reset.
func (p *Parser) Request() *Request {
	return &p.req
}

// Feed consumes as much of buf as possible and reports progress. A feed
// with no bytes is always a protocol violation.
func (p *Parser) Feed(buf []byte) ParseStatus {
	if len(buf) == 0 {
		return ParseStatus{Err: api.ErrUnexpectedEOF}
	}

	consumed := 0
	for {
		var n int
		var err error
		var again bool

		switch p.phase {
		case phaseHeaders:
			n, again, err = p.feedHeaders(buf[consumed:])
		case phaseBody:
			n, again = p.feedBody(buf[consumed:])
		case phaseChunkSize:
			n, again, err = p.feedChunkSize(buf[consumed:])
		case phaseChunkData:
			n, again = p.feedChunkData(buf[consumed:])
		case phaseChunkDataCRLF:
			n, again, err = p.feedChunkCRLF(buf[consumed:])
		case phaseTrailer:
			n, again, err = p.feedTrailer(buf[consumed:])
		case phaseDone:
			return p.status(buf, consumed, nil)
		}

		consumed += n
		if err != nil {
			return p.status(buf, consumed, err)
		}
		if !again || consumed == len(buf) {
			return p.status(buf, consumed, nil)
		}
	}
}

func (p *Parser) status(buf []byte, consumed int, err error) ParseStatus {
	st := ParseStatus{
		BytesConsumed:  consumed,
		BytesRemaining: len(buf) - consumed,
		Err:            err,
	}
	if err == nil && p.phase == phaseDone {
		st.MessageComplete = true
		st.KeepAliveRequested = p.req.KeepAlive
		st.UpgradeRequested = p.req.Upgrade
	}
	return st
}

// feedHeaders waits for the full header block, then parses the request
// line and all header fields in one pass.
func (p *Parser) feedHeaders(buf []byte) (int, bool, error) {
	end := bytes.Index(buf, crlfcrlf)
	if end == -1 {
		if len(buf) > p.maxHeaderBytes {
			return 0, false, fmt.Errorf("%w: header block exceeds %d bytes", api.ErrMalformedMessage, p.maxHeaderBytes)
		}
		return 0, false, nil
	}
	block := buf[:end]
	if len(block) > p.maxHeaderBytes {
		return 0, false, fmt.Errorf("%w: header block exceeds %d bytes", api.ErrMalformedMessage, p.maxHeaderBytes)
	}

	lineEnd := bytes.Index(block, crlf)
	if lineEnd == -1 {
		lineEnd = len(block)
	}
	if err := p.parseRequestLine(block[:lineEnd]); err != nil {
		return 0, false, err
	}

	rest := block[lineEnd:]
	var connClose, connKeepAlive, connUpgrade bool
	hasUpgradeHeader := false
	for len(rest) > 0 {
		rest = rest[2:] // leading CRLF from the previous line
		he := bytes.Index(rest, crlf)
		if he == -1 {
			he = len(rest)
		}
		line := rest[:he]
		rest = rest[he:]

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return 0, false, fmt.Errorf("%w: invalid header line", api.ErrMalformedMessage)
		}
		name := string(line[:colon])
		if strings.ContainsAny(name, " \t") {
			return 0, false, fmt.Errorf("%w: whitespace in header name", api.ErrMalformedMessage)
		}
		name = strings.ToLower(name)
		value := string(bytes.TrimSpace(line[colon+1:]))
		p.req.Headers = append(p.req.Headers, [2]string{name, value})

		switch name {
		case "host":
			p.req.Host = value
		case "content-length":
			cl, err := strconv.ParseInt(value, 10, 64)
			if err != nil || cl < 0 {
				return 0, false, fmt.Errorf("%w: invalid content-length %q", api.ErrMalformedMessage, value)
			}
			p.req.ContentLength = cl
		case "transfer-encoding":
			if tokenListContains(value, "chunked") {
				p.req.Chunked = true
			}
		case "connection":
			connClose = connClose || tokenListContains(value, "close")
			connKeepAlive = connKeepAlive || tokenListContains(value, "keep-alive")
			connUpgrade = connUpgrade || tokenListContains(value, "upgrade")
		case "upgrade":
			hasUpgradeHeader = value != ""
		}
	}

	if p.req.Proto == "HTTP/1.1" && p.req.Host == "" {
		return 0, false, fmt.Errorf("%w: missing Host header", api.ErrMalformedMessage)
	}

	// Keep-alive single source of truth: version default, then explicit
	// Connection tokens.
	p.req.KeepAlive = p.req.Proto == "HTTP/1.1"
	if connKeepAlive {
		p.req.KeepAlive = true
	}
	if connClose {
		p.req.KeepAlive = false
	}
	p.req.Upgrade = connUpgrade && hasUpgradeHeader

	switch {
	case p.req.Chunked:
		p.req.ContentLength = -1
		p.phase = phaseChunkSize
	case p.req.ContentLength > 0:
		p.bodyRemain = p.req.ContentLength
		p.phase = phaseBody
	default:
		p.phase = phaseDone
	}
	return end + len(crlfcrlf), true, nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return fmt.Errorf("%w: invalid request line", api.ErrMalformedMessage)
	}
	method := string(parts[0])
	for i := 0; i < len(method); i++ {
		c := method[i]
		if c < '!' || c > '~' {
			return fmt.Errorf("%w: invalid method", api.ErrMalformedMessage)
		}
	}
	proto := string(parts[2])
	if proto != "HTTP/1.1" && proto != "HTTP/1.0" {
		return fmt.Errorf("%w: unsupported protocol %q", api.ErrMalformedMessage, proto)
	}
	p.req.Method = method
	p.req.Target = string(parts[1])
	p.req.Proto = proto
	return nil
}

func (p *Parser) feedBody(buf []byte) (int, bool) {
	take := int64(len(buf))
	if take > p.bodyRemain {
		take = p.bodyRemain
	}
	p.req.Body = append(p.req.Body, buf[:take]...)
	p.bodyRemain -= take
	if p.bodyRemain == 0 {
		p.phase = phaseDone
	}
	return int(take), p.bodyRemain == 0
}

func (p *Parser) feedChunkSize(buf []byte) (int, bool, error) {
	lineEnd := bytes.Index(buf, crlf)
	if lineEnd == -1 {
		if len(buf) > maxChunkSizeLine {
			return 0, false, fmt.Errorf("%w: chunk size line too long", api.ErrMalformedMessage)
		}
		return 0, false, nil
	}
	sizeField := buf[:lineEnd]
	// Chunk extensions after ';' are tolerated and ignored.
	if semi := bytes.IndexByte(sizeField, ';'); semi != -1 {
		sizeField = sizeField[:semi]
	}
	size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeField)), 16, 64)
	if err != nil || size < 0 {
		return 0, false, fmt.Errorf("%w: invalid chunk size", api.ErrMalformedMessage)
	}
	if size == 0 {
		p.phase = phaseTrailer
	} else {
		p.chunkRemain = size
		p.phase = phaseChunkData
	}
	return lineEnd + len(crlf), true, nil
}

func (p *Parser) feedChunkData(buf []byte) (int, bool) {
	take := int64(len(buf))
	if take > p.chunkRemain {
		take = p.chunkRemain
	}
	p.req.Body = append(p.req.Body, buf[:take]...)
	p.chunkRemain -= take
	if p.chunkRemain == 0 {
		p.phase = phaseChunkDataCRLF
	}
	return int(take), p.chunkRemain == 0
}

func (p *Parser) feedChunkCRLF(buf []byte) (int, bool, error) {
	if len(buf) < 2 {
		return 0, false, nil
	}
	if buf[0] != '\r' || buf[1] != '\n' {
		return 0, false, fmt.Errorf("%w: missing CRLF after chunk data", api.ErrMalformedMessage)
	}
	p.phase = phaseChunkSize
	return 2, true, nil
}

// feedTrailer consumes optional trailer lines after the terminal chunk,
// ending on the empty line.
func (p *Parser) feedTrailer(buf []byte) (int, bool, error) {
	consumed := 0
	for {
		lineEnd := bytes.Index(buf[consumed:], crlf)
		if lineEnd == -1 {
			if len(buf)-consumed > p.maxHeaderBytes {
				return consumed, false, fmt.Errorf("%w: trailer block too long", api.ErrMalformedMessage)
			}
			return consumed, false, nil
		}
		consumed += lineEnd + len(crlf)
		if lineEnd == 0 {
			p.phase = phaseDone
			return consumed, true, nil
		}
	}
}

// tokenListContains reports whether the comma-separated list contains the
// token, ASCII case-insensitively.
func tokenListContains(list, token string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
