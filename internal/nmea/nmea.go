// Package nmea abstracts the GPS fix source as a lazy, possibly-infinite
// sequence of parsed sentences, each either a recognised Fix carrier or
// ignored: a capability any NMEA-speaking device can satisfy, rather
// than a concrete parser type threaded through the client pipeline.
//
// Only the RMC and GGA sentence types are consumed - between them they
// carry everything the wire format does (position, time, speed,
// altitude), so the parsing here stays minimal rather than covering the
// whole of NMEA 0183.
package nmea

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goblimey/outpost/internal/fix"
)

// Source yields one Fix at a time, blocking until one is available or
// ctx is cancelled. A non-nil error is terminal: the caller stops
// calling Next again.
type Source interface {
	Next(ctx context.Context) (fix.Fix, error)
}

// errIgnoredSentence is returned internally by parseSentence for
// sentence types the pipeline doesn't need (GSA, GSV, and so on); it
// never reaches a Source caller.
var errIgnoredSentence = errors.New("nmea: ignored sentence type")

// parseRMC extracts time, position and speed from a Recommended Minimum
// sentence, e.g. "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A".
func parseRMC(fields []string) (fix.Fix, error) {
	if len(fields) < 10 {
		return fix.Fix{}, fmt.Errorf("nmea: RMC sentence has %d fields, want at least 10", len(fields))
	}
	if fields[2] != "A" {
		return fix.Fix{}, fmt.Errorf("nmea: RMC status %q, fix not valid", fields[2])
	}

	ts, err := combineTimeAndDate(fields[1], fields[9])
	if err != nil {
		return fix.Fix{}, err
	}

	lat, err := parseLatitude(fields[3], fields[4])
	if err != nil {
		return fix.Fix{}, err
	}
	lon, err := parseLongitude(fields[5], fields[6])
	if err != nil {
		return fix.Fix{}, err
	}

	var speedKmh float64
	if fields[7] != "" {
		knots, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			return fix.Fix{}, fmt.Errorf("nmea: RMC speed field: %w", err)
		}
		speedKmh = knots * 1.852
	}

	return fix.Fix{Time: ts, Lat: lat, Lon: lon, Speed: speedKmh}, nil
}

// parseGGAAltitude extracts the antenna altitude (metres above mean sea
// level) from a Global Positioning System Fix Data sentence, e.g.
// "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47".
func parseGGAAltitude(fields []string) (float64, error) {
	if len(fields) < 10 {
		return 0, fmt.Errorf("nmea: GGA sentence has %d fields, want at least 10", len(fields))
	}
	if fields[6] == "0" {
		return 0, fmt.Errorf("nmea: GGA fix quality 0, no fix")
	}
	if fields[9] == "" {
		return 0, nil
	}
	alt, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: GGA altitude field: %w", err)
	}
	return alt, nil
}

// splitSentence validates the checksum (if present) and returns the
// comma-separated fields of a single NMEA 0183 sentence, with the
// leading "$" and the checksum stripped, and the sentence type (talker
// prefix removed) identified separately.  fields[0] still holds the
// talker+type word, so data fields start at fields[1].
func splitSentence(line string) (sentenceType string, fields []string, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return "", nil, fmt.Errorf("nmea: line does not start with '$'")
	}
	line = line[1:]

	if star := strings.IndexByte(line, '*'); star >= 0 {
		body, sum := line[:star], line[star+1:]
		if len(sum) >= 2 {
			want, err := strconv.ParseUint(sum[:2], 16, 8)
			if err == nil {
				if checksum(body) != byte(want) {
					return "", nil, fmt.Errorf("nmea: checksum mismatch")
				}
			}
		}
		line = body
	}

	fields = strings.Split(line, ",")
	if len(fields) == 0 || len(fields[0]) < 5 {
		return "", nil, fmt.Errorf("nmea: sentence too short to carry a type")
	}
	// fields[0] is "GPRMC"/"GNRMC"/etc: talker (2 chars) + type (3 chars).
	return fields[0][2:], fields, nil
}

func checksum(s string) byte {
	var c byte
	for i := 0; i < len(s); i++ {
		c ^= s[i]
	}
	return c
}

// parseSentence parses one NMEA line and returns a partial Fix together
// with whether it came from an RMC sentence (position+time+speed) or a
// GGA sentence (altitude only). Sentence types other than RMC/GGA return
// errIgnoredSentence.
func parseSentence(line string) (f fix.Fix, isRMC bool, alt float64, err error) {
	typ, fields, err := splitSentence(line)
	if err != nil {
		return fix.Fix{}, false, 0, err
	}
	switch typ {
	case "RMC":
		f, err = parseRMC(fields)
		return f, true, 0, err
	case "GGA":
		alt, err = parseGGAAltitude(fields)
		return fix.Fix{}, false, alt, err
	default:
		return fix.Fix{}, false, 0, errIgnoredSentence
	}
}

func parseLatitude(raw, hemisphere string) (float64, error) {
	deg, err := parseDegrees(raw, 2)
	if err != nil {
		return 0, err
	}
	if hemisphere == "S" {
		deg = -deg
	}
	return deg, nil
}

func parseLongitude(raw, hemisphere string) (float64, error) {
	deg, err := parseDegrees(raw, 3)
	if err != nil {
		return 0, err
	}
	if hemisphere == "W" {
		deg = -deg
	}
	return deg, nil
}

// parseDegrees decodes NMEA's ddmm.mmmm / dddmm.mmmm format into signed
// decimal degrees. degreeDigits is 2 for latitude, 3 for longitude.
func parseDegrees(raw string, degreeDigits int) (float64, error) {
	if len(raw) < degreeDigits+1 {
		return 0, fmt.Errorf("nmea: coordinate field %q too short", raw)
	}
	whole, err := strconv.ParseFloat(raw[:degreeDigits], 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: coordinate degrees: %w", err)
	}
	minutes, err := strconv.ParseFloat(raw[degreeDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: coordinate minutes: %w", err)
	}
	return whole + minutes/60.0, nil
}

// combineTimeAndDate builds a UTC instant from RMC's hhmmss.ss time
// field and ddmmyy date field.  Two-digit years 80..99 are read as
// 1980..1999 and 00..79 as 2000..2079.
func combineTimeAndDate(hms, ddmmyy string) (time.Time, error) {
	if len(hms) < 6 || len(ddmmyy) < 6 {
		return time.Time{}, fmt.Errorf("nmea: time/date fields too short (%q, %q)", hms, ddmmyy)
	}
	hh, err1 := strconv.Atoi(hms[0:2])
	mm, err2 := strconv.Atoi(hms[2:4])
	ss, err3 := strconv.Atoi(hms[4:6])
	dd, err4 := strconv.Atoi(ddmmyy[0:2])
	mo, err5 := strconv.Atoi(ddmmyy[2:4])
	yy, err6 := strconv.Atoi(ddmmyy[4:6])
	for _, e := range []error{err1, err2, err3, err4, err5, err6} {
		if e != nil {
			return time.Time{}, fmt.Errorf("nmea: malformed time/date: %w", e)
		}
	}
	year := 2000 + yy
	if yy >= 80 {
		year = 1900 + yy
	}
	return time.Date(year, time.Month(mo), dd, hh, mm, ss, 0, time.UTC), nil
}
