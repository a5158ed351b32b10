package nmea

import (
	"context"
	"log"
	"time"

	"github.com/goblimey/outpost/internal/fix"
)

// fixSource is a Source that can also be closed, which is what a
// reconnecting wrapper needs from the device underneath it.
type fixSource interface {
	Source
	Close() error
}

// ReconnectingSource keeps a fix stream alive across a dropped serial
// link.  On Linux a USB-serial device node is renumbered when the GPS
// loses power briefly - the connection that was /dev/ttyACM0 comes back
// as /dev/ttyACM1 and so on - so the wrapper is given a list of
// candidate device paths and tries each in turn, sleeping between full
// sweeps, until one opens.  A run of connection failures is logged once,
// not on every retry.
type ReconnectingSource struct {
	devices       []string
	baud          int
	retryInterval time.Duration
	logger        *log.Logger

	// open is OpenSerial in production; tests substitute a fake device.
	open func(device string, baud int, logger *log.Logger) (fixSource, error)

	current       fixSource
	failureLogged bool
}

// NewReconnectingSource returns a Source that reads from the first of
// devices that opens at baud, reconnecting whenever the link drops.
func NewReconnectingSource(devices []string, baud int, retryInterval time.Duration, logger *log.Logger) *ReconnectingSource {
	return &ReconnectingSource{
		devices:       devices,
		baud:          baud,
		retryInterval: retryInterval,
		logger:        logger,
		open: func(device string, baud int, logger *log.Logger) (fixSource, error) {
			return OpenSerial(device, baud, logger)
		},
	}
}

// Next yields the next Fix, transparently reopening the device if the
// current connection dies.  The only terminal error is ctx's.
func (r *ReconnectingSource) Next(ctx context.Context) (fix.Fix, error) {
	for {
		if r.current == nil {
			if err := r.connect(ctx); err != nil {
				return fix.Fix{}, err
			}
		}

		f, err := r.current.Next(ctx)
		if err == nil {
			return f, nil
		}
		if ctx.Err() != nil {
			return fix.Fix{}, ctx.Err()
		}

		r.logf("nmea: fix source failed: %v - reconnecting", err)
		r.current.Close()
		r.current = nil
	}
}

// connect tries each candidate device in turn until one opens, pausing
// between sweeps.  It only fails if ctx is cancelled.
func (r *ReconnectingSource) connect(ctx context.Context) error {
	for {
		for _, device := range r.devices {
			source, err := r.open(device, r.baud, r.logger)
			if err != nil {
				continue
			}
			r.logf("nmea: connected to %s", device)
			r.failureLogged = false
			r.current = source
			return nil
		}

		if !r.failureLogged {
			// Log only the first of a series of connection failures.
			r.logf("nmea: cannot open any of %v - retrying", r.devices)
			r.failureLogged = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retryInterval):
		}
	}
}

// Close releases the current device connection, if there is one.
func (r *ReconnectingSource) Close() error {
	if r.current == nil {
		return nil
	}
	return r.current.Close()
}

func (r *ReconnectingSource) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
