// File: httpcore/upgrader.go
//
// WebSocket upgrade negotiation per RFC 6455. The negotiator validates the
// handshake headers, writes the 101 response, and hands ownership of the
// connection's write path to the embedder's callback.

package httpcore

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// WebSocketUpgrader implements Upgrader for RFC 6455 handshakes.
type WebSocketUpgrader struct {
	logger *zap.Logger

	// OnUpgraded receives the connection after the 101 was queued. From
	// that point the callback owns the write path; the transport keeps
	// carrying bytes but no further HTTP messages are parsed.
	OnUpgraded func(conn Conn, req *Request)
}

// NewWebSocketUpgrader creates a negotiator. A nil logger is replaced with
// a no-op one.
func NewWebSocketUpgrader(logger *zap.Logger, onUpgraded func(conn Conn, req *Request)) *WebSocketUpgrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketUpgrader{logger: logger.Named("ws_upgrader"), OnUpgraded: onUpgraded}
}

// Upgrade validates the handshake and completes it. On validation failure
// a 400 is written and an error returned; the caller closes the connection.
func (u *WebSocketUpgrader) Upgrade(conn Conn, req *Request) error {
	if err := u.validate(req); err != nil {
		u.logger.Warn("websocket handshake rejected", zap.Error(err))
		_ = conn.Write(errorResponse(400))
		return err
	}

	accept := computeAcceptKey(req.Header("sec-websocket-key"))
	resp := []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"upgrade: websocket\r\n" +
		"connection: Upgrade\r\n" +
		"sec-websocket-accept: " + accept + "\r\n\r\n")
	if err := conn.Write(resp); err != nil {
		return fmt.Errorf("write handshake response: %w", err)
	}

	u.logger.Debug("websocket handshake complete", zap.String("target", req.Target))
	if u.OnUpgraded != nil {
		u.OnUpgraded(conn, req)
	}
	return nil
}

func (u *WebSocketUpgrader) validate(req *Request) error {
	if !tokenListContains(req.Header("upgrade"), "websocket") {
		return fmt.Errorf("unsupported upgrade target %q", req.Header("upgrade"))
	}
	if req.Header("sec-websocket-key") == "" {
		return fmt.Errorf("missing Sec-WebSocket-Key header")
	}
	if v := req.Header("sec-websocket-version"); v != "13" {
		return fmt.Errorf("unsupported websocket version %q", v)
	}
	return nil
}

// computeAcceptKey derives the Sec-WebSocket-Accept value.
func computeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
