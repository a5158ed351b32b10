// Package fix defines the data model shared by the client and server
// pipelines: a single GPS observation and the batches they travel in.
package fix

import "time"

// Fix is a single GPS observation.  Altitude and speed may be absent from
// the upstream NMEA source; the wire protocol carries them as zero when
// that happens, so there is no separate "present" flag here.
type Fix struct {
	Time  time.Time // UTC, second precision.
	Lat   float64   // Signed decimal degrees.
	Lon   float64   // Signed decimal degrees.
	Alt   float64   // Metres, signed.
	Speed float64   // km/h, non-negative.
}

// MaxBatchSize is the largest number of samples a single batch may hold.
const MaxBatchSize = 40

// Batch is an ordered sequence of 1..40 Fixes collected within one flush
// window at one client.  The first Fix is the reference; the rest are
// encoded as deltas against it (see package codec).
type Batch []Fix

// Reference returns the batch's reference sample, the first Fix.
// It panics if the batch is empty: an empty batch never appears on the
// wire, so callers are expected to check the length first rather than
// rely on a sentinel error.
func (b Batch) Reference() Fix {
	return b[0]
}
