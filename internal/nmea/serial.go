package nmea

import (
	"bufio"
	"context"
	"fmt"
	"log"

	"go.bug.st/serial"

	"github.com/goblimey/outpost/internal/fix"
)

// SerialSource reads NMEA sentences from a serial-attached GPS device
// and turns them into Fixes, combining the most recent GGA altitude
// with each new RMC position/time/speed.
type SerialSource struct {
	port    serial.Port
	scanner *bufio.Scanner
	logger  *log.Logger
	lastAlt float64
}

// OpenSerial opens device at baud (4800 or 38400 are the values this
// protocol expects) and returns a Source reading from it.
func OpenSerial(device string, baud int, logger *log.Logger) (*SerialSource, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("nmea: opening %s: %w", device, err)
	}
	return &SerialSource{
		port:    port,
		scanner: bufio.NewScanner(port),
		logger:  logger,
	}, nil
}

// Close releases the underlying serial port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}

// Next blocks until a valid RMC sentence yields a Fix, skipping
// malformed lines (logged) and ignored sentence types (not logged)
// along the way. GGA altitude seen
// in the meantime is folded into the next RMC-derived Fix.
func (s *SerialSource) Next(ctx context.Context) (fix.Fix, error) {
	for {
		select {
		case <-ctx.Done():
			return fix.Fix{}, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return fix.Fix{}, fmt.Errorf("nmea: reading serial device: %w", err)
			}
			return fix.Fix{}, fmt.Errorf("nmea: serial device closed")
		}

		f, isRMC, alt, err := parseSentence(s.scanner.Text())
		if err != nil {
			if err != errIgnoredSentence {
				s.logf("nmea: skipping sentence: %v", err)
			}
			continue
		}
		if !isRMC {
			s.lastAlt = alt
			continue
		}

		f.Alt = s.lastAlt
		return f, nil
	}
}

func (s *SerialSource) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
