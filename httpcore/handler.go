// File: httpcore/handler.go
//
// Application boundary. Handlers are always invoked on a dispatch worker,
// never on a connection's own event-loop worker, so slow application logic
// cannot starve other connections' I/O.

package httpcore

// ResponseWriter writes the response for exactly one request. The first
// call with endResponse=false and no content-length switches to chunked
// transfer-coding; the endResponse=true call terminates the message and
// re-arms keep-alive or schedules the connection for close.
type ResponseWriter interface {
	WriteResponse(status int, headers [][2]string, body []byte, endResponse bool) error
}

// BodySink receives the request body as a tagged event sequence. ack must
// be invoked after consuming each chunk before more are delivered;
// withholding ack halts delivery, which is how a sink abandons a body.
type BodySink interface {
	// Chunk delivers one body fragment. The data slice is only valid until
	// ack is called.
	Chunk(data []byte, ack func())

	// End signals that the body is complete.
	End()

	// Error signals a terminal condition; no further events follow.
	Error(err error)
}

// Handler serves fully parsed requests. A nil BodySink skips body delivery.
type Handler interface {
	Serve(req *Request, w ResponseWriter) BodySink
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req *Request, w ResponseWriter) BodySink

// Serve implements Handler.
func (f HandlerFunc) Serve(req *Request, w ResponseWriter) BodySink {
	return f(req, w)
}

// deliverBody pushes the buffered body into the sink, ack-gated: End fires
// only after the sink acknowledged the final chunk.
func deliverBody(sink BodySink, body []byte) {
	if sink == nil {
		return
	}
	if len(body) == 0 {
		sink.End()
		return
	}
	sink.Chunk(body, sink.End)
}
