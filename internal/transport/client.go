package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Retransmission policy, modelled on CoAP's CON handling (RFC 7252 4.2):
// an initial timeout, doubled on every retry, and up to MaxRetransmits
// retransmissions after the first attempt before the caller gets a
// timeout error.
const (
	initialTimeout  = 2 * time.Second
	MaxRetransmits  = 4
)

// ErrTimeout is returned by Post when a confirmable request goes
// unacknowledged after MaxRetransmits retries.
var ErrTimeout = errors.New("transport: request timed out")

// errReadDeadlineExceeded is an internal signal that one retransmission
// attempt's read deadline elapsed without a matching ACK; it never
// escapes Post, which turns a run of these into ErrTimeout.
var errReadDeadlineExceeded = errors.New("transport: read deadline exceeded")

// Response is a decoded server reply.
type Response struct {
	Code    Code
	Payload []byte
}

// Client sends requests to a single server address over UDP.
type Client struct {
	conn *net.UDPConn
	addr *net.UDPAddr

	mu        sync.Mutex
	messageID uint16
}

// Dial creates a Client bound to a random local port and targeting addr
// (host:port).
func Dial(addr string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", addr, err)
	}
	return &Client{conn: conn, addr: raddr}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Post sends a confirmable POST to path and blocks until the server
// acknowledges it or the retry budget is exhausted.  It retransmits the
// identical request (same message ID and token) on every timeout, so a
// server that processes a request but loses the ACK on the way back will
// see the same message ID again - see dedup.go on the server side.
func (c *Client) Post(ctx context.Context, path string, payload []byte) (*Response, error) {
	token := make([]byte, 4)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}

	req := &message{
		Type:      Confirmable,
		Code:      CodePOST,
		MessageID: c.nextMessageID(),
		Token:     token,
		Path:      path,
		Payload:   payload,
	}
	frame, err := req.encode()
	if err != nil {
		return nil, err
	}

	timeout := initialTimeout
	for attempt := 0; attempt <= MaxRetransmits; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.conn.Write(frame); err != nil {
			return nil, err
		}

		resp, err := c.awaitAck(ctx, req.MessageID, req.Token, timeout)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errReadDeadlineExceeded) {
			return nil, err
		}
		timeout *= 2
	}

	return nil, ErrTimeout
}

func (c *Client) awaitAck(ctx context.Context, wantID uint16, wantToken []byte, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, 2048)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, errReadDeadlineExceeded
			}
			return nil, err
		}

		reply, err := decodeMessage(buf[:n])
		if err != nil {
			continue // malformed datagram, keep waiting for the real ACK
		}
		if reply.Type != Acknowledgement || reply.MessageID != wantID || !bytes.Equal(reply.Token, wantToken) {
			continue
		}
		return &Response{Code: reply.Code, Payload: reply.Payload}, nil
	}
}

func (c *Client) nextMessageID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageID++
	return c.messageID
}
