// Package server implements the server-side pipeline behind the
// /position resource: open the envelope, decode the batch, hand the
// reconstructed fixes to the sink, and map each failure to the response
// code the client expects.  The server is stateless between requests
// beyond the key, the sink handle and the envelope counter, so it can be
// scaled horizontally by sharing the pre-shared key.
package server

import (
	"context"
	"io"
	"log"
	"sync/atomic"

	"github.com/goblimey/outpost/internal/cipher"
	"github.com/goblimey/outpost/internal/codec"
	"github.com/goblimey/outpost/internal/sink"
	"github.com/goblimey/outpost/internal/transport"
)

// Handler processes one envelope per request.  It satisfies
// transport.Handler; transport.Server has already rejected non-POST
// requests and wrong paths by the time Handle runs.
type Handler struct {
	key     []byte
	sink    sink.Sink
	journal io.Writer // optional verbatim plaintext journal, may be nil
	logger  *log.Logger

	// opened counts envelopes successfully opened under the current key,
	// read by the nonce-budget watch.
	opened uint64
}

var _ transport.Handler = (*Handler)(nil)

// New builds a Handler.  journal may be nil to disable the batch
// journal; logger may be nil to run silent.
func New(key []byte, s sink.Sink, journal io.Writer, logger *log.Logger) *Handler {
	return &Handler{key: key, sink: s, journal: journal, logger: logger}
}

// Handle opens, decodes and stores one envelope.
//
// A decode failure gets the same UNAUTHORIZED answer as an
// authentication failure: a valid key never produces malformed
// plaintext, so a batch that authenticates but doesn't decode means
// tampering or version skew, and the client can't act differently on
// the distinction anyway.
//
// Note that nothing here prevents a recorded envelope from being
// replayed: GCM authenticates each message but carries no sequence
// number, and adding one would change the wire format.  A replay just
// re-appends positions the store has already seen, which the database
// side can dedupe, so replay protection is deliberately left out.
func (h *Handler) Handle(payload []byte) (transport.Code, []byte) {
	plaintext, err := cipher.Open(h.key, payload)
	if err != nil {
		h.logf("server: rejecting envelope: %v", err)
		return transport.CodeUnauthorized, nil
	}

	batch, err := codec.Decode(plaintext)
	if err != nil {
		h.logf("server: envelope authenticated but would not decode: %v", err)
		return transport.CodeUnauthorized, nil
	}

	atomic.AddUint64(&h.opened, 1)

	if h.journal != nil {
		if _, err := h.journal.Write(plaintext); err != nil {
			// The journal is an operator convenience; a write failure
			// must not cost us the batch.
			h.logf("server: journal write failed: %v", err)
		}
	}

	if err := h.sink.Append(context.Background(), batch); err != nil {
		h.logf("server: sink rejected a %d-fix batch: %v", len(batch), err)
		return transport.CodeInternalServerError, nil
	}

	return transport.CodeChanged, nil
}

// EnvelopesOpened returns the number of envelopes successfully opened
// under the current key since startup.
func (h *Handler) EnvelopesOpened() uint64 {
	return atomic.LoadUint64(&h.opened)
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
