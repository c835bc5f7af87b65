// File: httpcore/upgrader_test.go

package httpcore

import (
	"strings"
	"testing"
)

func wsRequest(extra map[string]string) *Request {
	req := &Request{
		Method: "GET", Target: "/chat", Proto: "HTTP/1.1", Host: "h",
		Headers: [][2]string{
			{"connection", "Upgrade"},
			{"upgrade", "websocket"},
			{"sec-websocket-key", "dGhlIHNhbXBsZSBub25jZQ=="},
			{"sec-websocket-version", "13"},
		},
		Upgrade: true,
	}
	for k, v := range extra {
		replaced := false
		for i := range req.Headers {
			if req.Headers[i][0] == k {
				req.Headers[i][1] = v
				replaced = true
			}
		}
		if !replaced {
			req.Headers = append(req.Headers, [2]string{k, v})
		}
	}
	return req
}

func TestWebSocketUpgradeHandshake(t *testing.T) {
	conn := &fakeConn{}
	var handedOff *Request
	u := NewWebSocketUpgrader(nil, func(c Conn, req *Request) { handedOff = req })

	if err := u.Upgrade(conn, wsRequest(nil)); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	out := conn.output()
	if !strings.HasPrefix(out, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Fatalf("response = %q", out)
	}
	// Known-answer value from RFC 6455 section 1.3.
	if !strings.Contains(out, "sec-websocket-accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Fatalf("accept key wrong: %q", out)
	}
	if handedOff == nil || handedOff.Target != "/chat" {
		t.Fatal("OnUpgraded not invoked with the request")
	}
}

func TestWebSocketUpgradeRejections(t *testing.T) {
	cases := []struct {
		name  string
		extra map[string]string
	}{
		{"wrong target", map[string]string{"upgrade": "h2c"}},
		{"missing key", map[string]string{"sec-websocket-key": ""}},
		{"wrong version", map[string]string{"sec-websocket-version": "8"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConn{}
			u := NewWebSocketUpgrader(nil, nil)
			if err := u.Upgrade(conn, wsRequest(tc.extra)); err == nil {
				t.Fatal("expected handshake rejection")
			}
			if !strings.HasPrefix(conn.output(), "HTTP/1.1 400 Bad Request\r\n") {
				t.Fatalf("response = %q", conn.output())
			}
		})
	}
}
