// Package codec implements the wire encoding of a Batch described in the
// protocol's header-plus-deltas format: a 16-byte header carrying the full-
// precision reference sample, followed by count-1 9-byte delta samples.
//
// Every multi-byte field is big-endian.  Quantisation rounds to nearest,
// ties away from zero, and saturates rather than erroring when a value
// doesn't fit its field - the protocol is already best-effort, so a lossy
// sample beats a dropped one.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/goblimey/outpost/internal/fix"
)

// HeaderSize is the length in bytes of the batch header.
const HeaderSize = 16

// SampleSize is the length in bytes of one delta sample body.
const SampleSize = 9

// Field scale factors, per the wire format table.
const (
	latLonRefScale   = 1e7 // ref_lat_q, ref_lon_q: degrees * 10^7
	latLonDeltaScale = 1e4 // dlat_q, dlon_q: degrees * 10^4
	speedScale       = 10  // *_spd_q: km/h * 10
)

var (
	// ErrTooShort is returned when the input has fewer bytes than the
	// header plus count's declared number of sample bodies requires.
	ErrTooShort = errors.New("codec: too short")
	// ErrBadCount is returned when the header's count field is 0 or >40.
	ErrBadCount = errors.New("codec: bad count")
	// ErrTrailingBytes is returned when the input has more bytes than the
	// declared length accounts for.
	ErrTrailingBytes = errors.New("codec: trailing bytes")
)

// Encode serialises a batch to its wire form.  b must have 1..40 samples;
// callers are expected to enforce that invariant before calling Encode
// (see client.Pipeline), so Encode does not itself return an error for an
// out-of-range length.
func Encode(b fix.Batch) []byte {
	count := len(b)
	out := make([]byte, HeaderSize+SampleSize*(count-1))

	ref := b[0]
	binary.BigEndian.PutUint32(out[0:4], uint32(ref.Time.Unix()))
	binary.BigEndian.PutUint32(out[4:8], uint32(quantiseRound(ref.Lat*latLonRefScale, math.MinInt32, math.MaxInt32)))
	binary.BigEndian.PutUint32(out[8:12], uint32(quantiseRound(ref.Lon*latLonRefScale, math.MinInt32, math.MaxInt32)))
	binary.BigEndian.PutUint16(out[12:14], uint16(int16(quantiseRound(ref.Alt, math.MinInt16, math.MaxInt16))))
	out[14] = byte(quantiseRound(ref.Speed*speedScale, 0, math.MaxUint8))
	out[15] = byte(count)

	refTime := ref.Time.Unix()
	for i := 1; i < count; i++ {
		s := b[i]
		off := HeaderSize + SampleSize*(i-1)

		dt := s.Time.Unix() - refTime
		binary.BigEndian.PutUint16(out[off:off+2], uint16(quantiseRound(float64(dt), 0, math.MaxUint16)))

		dlat := (s.Lat - ref.Lat) * latLonDeltaScale
		binary.BigEndian.PutUint16(out[off+2:off+4], uint16(int16(quantiseRound(dlat, math.MinInt16, math.MaxInt16))))

		dlon := (s.Lon - ref.Lon) * latLonDeltaScale
		binary.BigEndian.PutUint16(out[off+4:off+6], uint16(int16(quantiseRound(dlon, math.MinInt16, math.MaxInt16))))

		binary.BigEndian.PutUint16(out[off+6:off+8], uint16(int16(quantiseRound(s.Alt, math.MinInt16, math.MaxInt16))))

		out[off+8] = byte(quantiseRound(s.Speed*speedScale, 0, math.MaxUint8))
	}

	return out
}

// Decode parses a batch wire payload back into absolute Fixes.
func Decode(data []byte) (fix.Batch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooShort
	}

	count := int(data[15])
	if count < 1 || count > fix.MaxBatchSize {
		return nil, ErrBadCount
	}

	wantLen := HeaderSize + SampleSize*(count-1)
	if len(data) < wantLen {
		return nil, ErrTooShort
	}
	if len(data) > wantLen {
		return nil, ErrTrailingBytes
	}

	refTS := int64(binary.BigEndian.Uint32(data[0:4]))
	refLat := float64(int32(binary.BigEndian.Uint32(data[4:8]))) / latLonRefScale
	refLon := float64(int32(binary.BigEndian.Uint32(data[8:12]))) / latLonRefScale
	refAlt := float64(int16(binary.BigEndian.Uint16(data[12:14])))
	refSpd := float64(data[14]) / speedScale

	batch := make(fix.Batch, count)
	batch[0] = fix.Fix{
		Time:  time.Unix(refTS, 0).UTC(),
		Lat:   refLat,
		Lon:   refLon,
		Alt:   refAlt,
		Speed: refSpd,
	}

	for i := 1; i < count; i++ {
		off := HeaderSize + SampleSize*(i-1)
		dt := int64(binary.BigEndian.Uint16(data[off : off+2]))
		dlat := float64(int16(binary.BigEndian.Uint16(data[off+2:off+4]))) / latLonDeltaScale
		dlon := float64(int16(binary.BigEndian.Uint16(data[off+4:off+6]))) / latLonDeltaScale
		alt := float64(int16(binary.BigEndian.Uint16(data[off+6 : off+8])))
		spd := float64(data[off+8]) / speedScale

		batch[i] = fix.Fix{
			Time:  time.Unix(refTS+dt, 0).UTC(),
			Lat:   refLat + dlat,
			Lon:   refLon + dlon,
			Alt:   alt,
			Speed: spd,
		}
	}

	return batch, nil
}

// quantiseRound rounds v to the nearest integer, ties away from zero, and
// saturates the result to [lo, hi].
func quantiseRound(v, lo, hi float64) int64 {
	var rounded float64
	if v >= 0 {
		rounded = math.Floor(v + 0.5)
	} else {
		rounded = math.Ceil(v - 0.5)
	}
	if rounded < lo {
		return int64(lo)
	}
	if rounded > hi {
		return int64(hi)
	}
	return int64(rounded)
}
