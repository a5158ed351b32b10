package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goblimey/outpost/internal/clock"
	"github.com/goblimey/outpost/internal/codec"
	"github.com/goblimey/outpost/internal/fix"
	"github.com/goblimey/outpost/internal/transport"
)

type fakeSender struct {
	calls    int
	response *transport.Response
	err      error
	lastBody []byte
}

func (f *fakeSender) Post(ctx context.Context, path string, payload []byte) (*transport.Response, error) {
	f.calls++
	f.lastBody = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func testFix(ts int64, lat, lon float64) fix.Fix {
	return fix.Fix{Time: time.Unix(ts, 0).UTC(), Lat: lat, Lon: lon}
}

func newTestPipeline(sender Sender) *Pipeline {
	return New(0.0001, time.Second, clock.NewSteppingClock(nil), sender, make([]byte, 32), nil)
}

func TestDuplicateFilterRejectsClose(t *testing.T) {
	p := newTestPipeline(&fakeSender{})

	p.Accept(testFix(1, 45.0, -120.0)) // first fix is always accepted
	if len(p.buffer) != 1 {
		t.Fatalf("want first fix accepted, buffer has %d", len(p.buffer))
	}
	p.Accept(testFix(2, 45.0, -120.0)) // identical: rejected
	p.Accept(testFix(3, 45.0, -120.0)) // identical: rejected

	if len(p.buffer) != 1 {
		t.Errorf("want 1 fix in buffer after duplicates, got %d", len(p.buffer))
	}
}

func TestDuplicateFilterAcceptsFarEnough(t *testing.T) {
	p := newTestPipeline(&fakeSender{})

	p.Accept(testFix(1, 45.0, -120.0))
	p.Accept(testFix(2, 45.001, -120.001)) // both axes clear theta

	if len(p.buffer) != 2 {
		t.Errorf("want 2 fixes in buffer, got %d", len(p.buffer))
	}
}

func TestDuplicateFilterRequiresBothAxes(t *testing.T) {
	p := newTestPipeline(&fakeSender{})

	p.Accept(testFix(1, 45.0, -120.0))
	// Latitude moved well past theta but longitude didn't move at all.
	accepted := p.Accept(testFix(2, 45.001, -120.0))
	if accepted {
		t.Fatal("Accept returned true unexpectedly")
	}
	if len(p.buffer) != 1 {
		t.Errorf("want single-axis movement rejected, buffer has %d fixes", len(p.buffer))
	}
}

func TestFlushOnCapacity(t *testing.T) {
	sender := &fakeSender{response: &transport.Response{Code: transport.CodeChanged}}
	p := newTestPipeline(sender)

	var flushTriggered bool
	for i := 0; i < fix.MaxBatchSize; i++ {
		lat := 45.0 + float64(i)*0.001
		lon := -120.0 + float64(i)*0.001
		if p.Accept(testFix(int64(i), lat, lon)) {
			flushTriggered = true
		}
	}
	if !flushTriggered {
		t.Fatal("want capacity flush triggered after 40 accepted fixes")
	}

	p.Flush(context.Background())
	if len(p.buffer) != 0 {
		t.Errorf("want empty buffer after successful flush, got %d", len(p.buffer))
	}
	if sender.calls != 1 {
		t.Errorf("want exactly one send, got %d", sender.calls)
	}
}

func TestFlushOnTimer(t *testing.T) {
	steppingClock := clock.NewSteppingClock([]time.Time{
		time.Unix(1000, 0),
		time.Unix(1000, 0),
		time.Unix(1002, 0), // FlushInterval=1s has elapsed
	})
	sender := &fakeSender{response: &transport.Response{Code: transport.CodeChanged}}
	p := New(0.0001, time.Second, steppingClock, sender, make([]byte, 32), nil)

	p.Accept(testFix(1, 45.0, -120.0))
	if p.DueForTimerFlush() {
		t.Fatal("should not be due immediately")
	}
	if !p.DueForTimerFlush() {
		t.Fatal("want flush due once the interval has elapsed")
	}
}

// blockingSender holds every Post until released, so a test can observe
// the pipeline's state while a send is in flight.
type blockingSender struct {
	release chan struct{}
	calls   int32
}

func (s *blockingSender) Post(ctx context.Context, path string, payload []byte) (*transport.Response, error) {
	atomic.AddInt32(&s.calls, 1)
	<-s.release
	return &transport.Response{Code: transport.CodeChanged}, nil
}

func TestStartFlushClaimsSendSlotSynchronously(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	p := newTestPipeline(sender)
	p.Accept(testFix(1, 45.0, -120.0))

	ctx := context.Background()
	p.startFlush(ctx)

	// The in-flight mark is set before startFlush returns, so a second
	// trigger from the run loop - a timer tick landing right after a
	// capacity flush, say - finds nothing to claim.
	p.mu.Lock()
	sending := p.sending
	p.mu.Unlock()
	if !sending {
		t.Fatal("want the send slot claimed before startFlush returns")
	}

	p.Accept(testFix(2, 45.001, -120.001))
	p.startFlush(ctx)
	if p.DueForTimerFlush() {
		t.Error("no flush may be due while a send is in flight")
	}

	close(sender.release)
	for i := 0; i < 100 && atomic.LoadInt32(&sender.calls) == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(&sender.calls); got != 1 {
		t.Errorf("want exactly one in-flight send, got %d", got)
	}
}

func TestBufferEvictsOldestAtCapacity(t *testing.T) {
	p := newTestPipeline(&fakeSender{})
	p.sending = true // a send is in flight, so capacity can't trigger a flush

	for i := 0; i <= fix.MaxBatchSize; i++ {
		lat := 45.0 + float64(i)*0.001
		lon := -120.0 + float64(i)*0.001
		if p.Accept(testFix(int64(i), lat, lon)) {
			t.Fatal("no flush may trigger while a send is in flight")
		}
	}

	if len(p.buffer) != fix.MaxBatchSize {
		t.Fatalf("want buffer capped at %d, got %d", fix.MaxBatchSize, len(p.buffer))
	}
	// Fix 0 was evicted; the buffer now starts at fix 1 and ends at fix 40.
	if got := p.buffer[0].Time.Unix(); got != 1 {
		t.Errorf("want oldest fix evicted, buffer starts at ts %d", got)
	}
	if got := p.buffer[len(p.buffer)-1].Time.Unix(); got != int64(fix.MaxBatchSize) {
		t.Errorf("want newest fix retained, buffer ends at ts %d", got)
	}
}

func TestFlushDropsOnAuthFailure(t *testing.T) {
	sender := &fakeSender{response: &transport.Response{Code: transport.CodeUnauthorized}}
	p := newTestPipeline(sender)
	for i := 0; i < 5; i++ {
		p.Accept(testFix(int64(i), 45.0+float64(i)*0.001, -120.0+float64(i)*0.001))
	}

	p.Flush(context.Background())
	if len(p.buffer) != 0 {
		t.Errorf("want buffer cleared after UNAUTHORIZED, got %d fixes", len(p.buffer))
	}
}

func TestFlushDropsOnTransportTimeout(t *testing.T) {
	sender := &fakeSender{err: errors.New("boom")}
	p := newTestPipeline(sender)
	for i := 0; i < 5; i++ {
		p.Accept(testFix(int64(i), 45.0+float64(i)*0.001, -120.0+float64(i)*0.001))
	}

	p.Flush(context.Background())
	if len(p.buffer) != 0 {
		t.Errorf("want buffer dropped after send failure, got %d fixes", len(p.buffer))
	}

	// The next accepted fix starts a fresh buffer of size 1.
	p.Accept(testFix(100, 50.0, -100.0))
	if len(p.buffer) != 1 {
		t.Errorf("want fresh buffer of size 1, got %d", len(p.buffer))
	}
}

func TestFlushEncodesBufferBeforeSealing(t *testing.T) {
	sender := &fakeSender{response: &transport.Response{Code: transport.CodeChanged}}
	p := newTestPipeline(sender)
	p.Accept(testFix(1700000000, 45.0, -120.0))

	p.Flush(context.Background())
	if len(sender.lastBody) == 0 {
		t.Fatal("want a non-empty envelope sent")
	}
	// Sanity: an all-zero key envelope for a header-only plaintext is 44 bytes.
	if len(sender.lastBody) != codec.HeaderSize+28 {
		t.Errorf("want 44-byte envelope, got %d", len(sender.lastBody))
	}
}
