// Package client implements the client-side pipeline: a duplicate
// filter over incoming fixes, a single in-flight batch buffer, flush on
// capacity or on a timer, and bounded-retry delivery over the transport.
//
// The filter and flush-trigger logic are plain, clock-driven methods
// that tests call directly; Run is the thin goroutine loop that wires
// them to a live fix source and a real clock.
package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/goblimey/outpost/internal/cipher"
	"github.com/goblimey/outpost/internal/clock"
	"github.com/goblimey/outpost/internal/codec"
	"github.com/goblimey/outpost/internal/fix"
	"github.com/goblimey/outpost/internal/nmea"
	"github.com/goblimey/outpost/internal/transport"
)

// Sender is the subset of transport.Client the pipeline needs; tests
// substitute a fake to exercise CHANGED/UNAUTHORIZED/timeout handling
// without a real socket.
type Sender interface {
	Post(ctx context.Context, path string, payload []byte) (*transport.Response, error)
}

const resourcePath = "/position"

// Pipeline is the client-side state machine described in the protocol's
// client algorithm: duplicate filter, batch buffer, flush timer.
type Pipeline struct {
	Threshold     float64
	FlushInterval time.Duration
	Clock         clock.Clock
	Sender        Sender
	Key           []byte
	Logger        *log.Logger

	mu          sync.Mutex
	buffer      fix.Batch
	last        *fix.Fix
	bufferSince time.Time
	sending     bool
}

// New builds a Pipeline. threshold is the duplicate-filter degree
// tolerance (theta, similarity_threshold); flushInterval is the
// freshness bound applied when the buffer is under capacity.
func New(threshold float64, flushInterval time.Duration, clk clock.Clock, sender Sender, key []byte, logger *log.Logger) *Pipeline {
	return &Pipeline{
		Threshold:     threshold,
		FlushInterval: flushInterval,
		Clock:         clk,
		Sender:        sender,
		Key:           key,
		Logger:        logger,
	}
}

// Accept applies the duplicate filter and, if f is accepted, appends it
// to the current buffer.  It returns true if the buffer has reached
// capacity and should be flushed. The very first fix after startup is
// always accepted, since there is no "last" to compare against yet.
func (p *Pipeline) Accept(f fix.Fix) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil {
		dlat := f.Lat - p.last.Lat
		dlon := f.Lon - p.last.Lon
		// Acceptance requires BOTH axes to have moved at least theta;
		// a fix that only drifted in one axis is still a duplicate.
		if abs(dlat) < p.Threshold || abs(dlon) < p.Threshold {
			return false
		}
	}

	last := f
	p.last = &last

	if len(p.buffer) == 0 {
		p.bufferSince = p.Clock.Now()
	}

	if len(p.buffer) >= fix.MaxBatchSize {
		// The buffer is already at the wire limit - a send is in flight
		// (or just about to start and take the buffer).  Evict the
		// oldest sample rather than grow past what one batch can carry.
		copy(p.buffer, p.buffer[1:])
		p.buffer[len(p.buffer)-1] = f
		p.logf("client: buffer full while send in flight, evicted oldest fix")
		return false
	}

	p.buffer = append(p.buffer, f)
	return len(p.buffer) >= fix.MaxBatchSize && !p.sending
}

// DueForTimerFlush reports whether the buffer is non-empty, no send is
// currently in flight, and FlushInterval has elapsed since it became
// non-empty.
func (p *Pipeline) DueForTimerFlush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sending || len(p.buffer) == 0 {
		return false
	}
	return p.Clock.Now().Sub(p.bufferSince) >= p.FlushInterval
}

// Flush takes the current buffer, marks a send in flight, ships it over
// Sender, and blocks for the duration of the send.  If the buffer is
// empty or a send is already in flight it does nothing.
func (p *Pipeline) Flush(ctx context.Context) {
	batch, ok := p.takeBuffer()
	if !ok {
		return
	}
	p.send(ctx, batch)
	p.endSend()
}

// startFlush is Flush for the Run loop: the buffer snapshot and the
// in-flight mark are taken synchronously, before this returns, so the
// caller cannot start a second send no matter how its next loop
// iteration interleaves with the send goroutine.  Only the send itself
// runs concurrently.
func (p *Pipeline) startFlush(ctx context.Context) {
	batch, ok := p.takeBuffer()
	if !ok {
		return
	}
	go func() {
		p.send(ctx, batch)
		p.endSend()
	}()
}

// takeBuffer atomically claims the buffer and the in-flight mark.  It
// reports false, claiming nothing, if the buffer is empty or a send is
// already in flight.
func (p *Pipeline) takeBuffer() (fix.Batch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sending || len(p.buffer) == 0 {
		return nil, false
	}
	batch := p.buffer
	p.buffer = nil
	p.sending = true
	return batch, true
}

func (p *Pipeline) endSend() {
	p.mu.Lock()
	p.sending = false
	p.mu.Unlock()
}

func (p *Pipeline) send(ctx context.Context, batch fix.Batch) {
	plaintext := codec.Encode(batch)
	envelope, err := cipher.Seal(p.Key, plaintext)
	if err != nil {
		p.logf("client: sealing batch: %v (dropped)", err)
		return
	}

	resp, err := p.Sender.Post(ctx, resourcePath, envelope)
	if err != nil {
		p.logf("client: send failed: %v (batch dropped)", err)
		return
	}

	switch resp.Code {
	case transport.CodeChanged:
		return
	case transport.CodeUnauthorized:
		p.logf("client: server rejected envelope as unauthorized (check PSK); batch dropped")
	default:
		p.logf("client: server returned unexpected code %v; batch dropped", resp.Code)
	}
}

// Run drives the pipeline from a live fix source until ctx is cancelled
// or the source is exhausted.  It is the only place the pipeline touches
// goroutines; Accept, DueForTimerFlush and Flush are plain synchronous
// methods that the test suite calls directly.
func (p *Pipeline) Run(ctx context.Context, source nmea.Source, pollInterval time.Duration) error {
	fixes := make(chan fix.Fix)
	readErrs := make(chan error, 1)

	go func() {
		for {
			f, err := source.Next(ctx)
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case fixes <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrs:
			return err
		case f := <-fixes:
			if p.Accept(f) {
				p.startFlush(ctx)
			}
		case <-ticker.C:
			if p.DueForTimerFlush() {
				p.startFlush(ctx)
			}
		}
	}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
