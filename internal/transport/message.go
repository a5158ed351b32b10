// Package transport implements a small CoAP-inspired request/response
// layer over UDP: confirmable messages that are retransmitted with
// exponential backoff until acknowledged, token correlation between
// request and response, and a single server-side resource addressed by
// path.  The wire framing is simplified from RFC 7252 (no options, no
// block-wise transfer) but compatible in shape: type, code, message ID,
// token and path/payload are all present, and response codes use CoAP's
// class.detail numbering.
package transport

import (
	"encoding/binary"
	"errors"
)

// Type is the CoAP-style message type.
type Type uint8

const (
	Confirmable    Type = 0
	NonConfirmable Type = 1
	Acknowledgement Type = 2
	Reset          Type = 3
)

// Code identifies either a request method or a response result.
type Code uint8

// Request method. POST is the only one this system uses.
const CodePOST Code = 1

// Response codes, encoded class.detail the way CoAP does: class*32+detail.
const (
	CodeChanged             Code = 2*32 + 4 // 2.04
	CodeUnauthorized        Code = 4*32 + 1 // 4.01
	CodeMethodNotAllowed    Code = 4*32 + 5 // 4.05
	CodeInternalServerError Code = 5*32 + 0 // 5.00
)

// MaxTokenLength is the largest token this implementation will encode.
const MaxTokenLength = 8

// headerSize is the fixed part of the frame: type(1) code(1) messageID(2) tokenLen(1).
const headerSize = 5

var (
	ErrFrameTooShort = errors.New("transport: frame too short")
	ErrTokenTooLong  = errors.New("transport: token too long")
	ErrPathTooLong   = errors.New("transport: path too long")
)

// message is the wire frame shared by requests and responses.  A request
// carries a non-empty Path; a response's Path is always empty - the
// caller tells them apart by context (which side of the socket they're
// on), not by a field in the frame.
type message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Path      string
	Payload   []byte
}

func (m *message) encode() ([]byte, error) {
	if len(m.Token) > MaxTokenLength {
		return nil, ErrTokenTooLong
	}
	if len(m.Path) > 255 {
		return nil, ErrPathTooLong
	}

	buf := make([]byte, headerSize+len(m.Token)+1+len(m.Path)+len(m.Payload))
	buf[0] = byte(m.Type)
	buf[1] = byte(m.Code)
	binary.BigEndian.PutUint16(buf[2:4], m.MessageID)
	buf[4] = byte(len(m.Token))

	off := headerSize
	copy(buf[off:], m.Token)
	off += len(m.Token)

	buf[off] = byte(len(m.Path))
	off++
	copy(buf[off:], m.Path)
	off += len(m.Path)

	copy(buf[off:], m.Payload)

	return buf, nil
}

func decodeMessage(data []byte) (*message, error) {
	if len(data) < headerSize+1 {
		return nil, ErrFrameTooShort
	}

	m := &message{
		Type:      Type(data[0]),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}

	tokenLen := int(data[4])
	off := headerSize
	if len(data) < off+tokenLen+1 {
		return nil, ErrFrameTooShort
	}
	m.Token = append([]byte(nil), data[off:off+tokenLen]...)
	off += tokenLen

	pathLen := int(data[off])
	off++
	if len(data) < off+pathLen {
		return nil, ErrFrameTooShort
	}
	m.Path = string(data[off : off+pathLen])
	off += pathLen

	m.Payload = append([]byte(nil), data[off:]...)

	return m, nil
}
