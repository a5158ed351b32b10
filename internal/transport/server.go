package transport

import (
	"log"
	"net"
)

const dedupCacheSize = 256

// Handler processes a decoded POST body for the resource path the Server
// is listening on and returns the response code and payload to send
// back.  internal/server implements this to wire in cipher.Open,
// codec.Decode and sink.Append.
type Handler interface {
	Handle(payload []byte) (Code, []byte)
}

// Server listens for confirmable and non-confirmable POST requests on a
// single resource path and dispatches them to a Handler.
type Server struct {
	Path   string
	Logger *log.Logger

	handler Handler
	dedup   *dedupCache
}

// NewServer builds a Server that routes POST requests on path to handler.
func NewServer(path string, handler Handler, logger *log.Logger) *Server {
	return &Server{
		Path:    path,
		Logger:  logger,
		handler: handler,
		dedup:   newDedupCache(dedupCacheSize),
	}
}

// ListenAndServe binds addr and processes requests until the socket is
// closed or an unrecoverable read error occurs.  It returns that error.
func (s *Server) ListenAndServe(addr string) error {
	conn, err := s.Listen(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return s.Serve(conn)
}

// Listen binds addr (use "host:0" to get an OS-assigned port, handy in
// tests) without starting the serve loop.
func (s *Server) Listen(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", laddr)
}

// Serve runs the receive loop on an already-bound connection until it is
// closed or an unrecoverable read error occurs.
func (s *Server) Serve(conn *net.UDPConn) error {
	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go s.handleDatagram(conn, raddr, data)
	}
}

func (s *Server) handleDatagram(conn *net.UDPConn, raddr *net.UDPAddr, data []byte) {
	req, err := decodeMessage(data)
	if err != nil {
		s.logf("transport: dropping malformed datagram from %s: %v", raddr, err)
		return
	}
	if req.Type != Confirmable && req.Type != NonConfirmable {
		return // ACKs and resets addressed to us are ignored
	}

	addrKey := raddr.String()
	if cached, ok := s.dedup.lookup(addrKey, req.MessageID); ok {
		s.reply(conn, raddr, req, cached.Code, cached.Payload)
		return
	}

	code, payload := s.route(req)
	s.dedup.record(addrKey, req.MessageID, message{Code: code, Payload: payload})

	if req.Type == Confirmable {
		s.reply(conn, raddr, req, code, payload)
	}
}

func (s *Server) route(req *message) (Code, []byte) {
	if req.Code != CodePOST {
		return CodeMethodNotAllowed, nil
	}
	if req.Path != s.Path {
		return CodeMethodNotAllowed, nil
	}
	return s.handler.Handle(req.Payload)
}

func (s *Server) reply(conn *net.UDPConn, raddr *net.UDPAddr, req *message, code Code, payload []byte) {
	resp := &message{
		Type:      Acknowledgement,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
		Payload:   payload,
	}
	frame, err := resp.encode()
	if err != nil {
		s.logf("transport: encoding response to %s: %v", raddr, err)
		return
	}
	if _, err := conn.WriteToUDP(frame, raddr); err != nil {
		s.logf("transport: writing response to %s: %v", raddr, err)
	}
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
