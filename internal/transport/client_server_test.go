package transport

import (
	"context"
	"testing"
	"time"
)

type echoHandler struct {
	code Code
}

func (h echoHandler) Handle(payload []byte) (Code, []byte) {
	return h.code, payload
}

func startTestServer(t *testing.T, path string, handler Handler) string {
	t.Helper()
	srv := NewServer(path, handler, nil)
	conn, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	go srv.Serve(conn)
	return conn.LocalAddr().String()
}

func TestClientServerRoundTrip(t *testing.T) {
	addr := startTestServer(t, "/position", echoHandler{code: CodeChanged})

	client, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/position", []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != CodeChanged {
		t.Errorf("want CodeChanged, got %v", resp.Code)
	}
	if string(resp.Payload) != "payload" {
		t.Errorf("want echoed payload, got %q", resp.Payload)
	}
}

func TestServerRejectsWrongPath(t *testing.T) {
	addr := startTestServer(t, "/position", echoHandler{code: CodeChanged})

	client, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/wrong", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != CodeMethodNotAllowed {
		t.Errorf("want CodeMethodNotAllowed, got %v", resp.Code)
	}
}

func TestServerRejectsNonPOST(t *testing.T) {
	srv := NewServer("/position", echoHandler{code: CodeChanged}, nil)

	// A request whose method code is not CodePOST must be refused even
	// on the right path.
	code, _ := srv.route(&message{Type: Confirmable, Code: 2, Path: "/position"})
	if code != CodeMethodNotAllowed {
		t.Errorf("want CodeMethodNotAllowed for a non-POST request, got %v", code)
	}
}

func TestRetransmittedRequestGetsCachedResponse(t *testing.T) {
	calls := 0
	handler := handlerFunc(func(payload []byte) (Code, []byte) {
		calls++
		return CodeChanged, payload
	})
	addr := startTestServer(t, "/position", handler)

	client, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// Simulate a retransmission: same message ID and token sent twice,
	// as the client does when an ACK is lost in flight.
	req := &message{Type: Confirmable, Code: CodePOST, MessageID: 7, Token: []byte{9}, Path: "/position", Payload: []byte("a")}
	frame, err := req.encode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.conn.Write(frame); err != nil {
		t.Fatal(err)
	}
	if _, err := client.conn.Write(frame); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if calls != 1 {
		t.Errorf("want handler invoked once despite retransmission, got %d calls", calls)
	}
}

func TestPostFailsWithoutServer(t *testing.T) {
	// Nobody is listening on this port.
	client, err := Dial("127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = client.Post(ctx, "/position", []byte("x"))
	if err == nil {
		t.Fatal("want an error, got nil")
	}
}

type handlerFunc func(payload []byte) (Code, []byte)

func (f handlerFunc) Handle(payload []byte) (Code, []byte) { return f(payload) }
