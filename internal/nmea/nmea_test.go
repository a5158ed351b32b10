package nmea

import (
	"context"
	"testing"
	"time"

	"github.com/goblimey/outpost/internal/fix"
)

func TestParseRMCValid(t *testing.T) {
	line := "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	f, isRMC, _, err := parseSentence(line)
	if err != nil {
		t.Fatal(err)
	}
	if !isRMC {
		t.Fatal("want RMC sentence recognised")
	}
	if f.Lat < 48.1172 || f.Lat > 48.1173 {
		t.Errorf("want lat ~48.1173, got %v", f.Lat)
	}
	if f.Lon < 11.5166 || f.Lon > 11.5167 {
		t.Errorf("want lon ~11.5167, got %v", f.Lon)
	}
	wantTime := time.Date(1994, time.March, 23, 12, 35, 19, 0, time.UTC)
	if !f.Time.Equal(wantTime) {
		t.Errorf("want time %v, got %v", wantTime, f.Time)
	}
	if f.Speed < 41.48 || f.Speed > 41.49 {
		t.Errorf("want speed ~41.485 km/h, got %v", f.Speed)
	}
}

func TestParseRMCVoidFix(t *testing.T) {
	line := "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
	// The checksum is valid for this line, so the rejection comes from
	// the V status, not from checksum validation.
	_, _, _, err := parseSentence(line)
	if err == nil {
		t.Fatal("want an error for a void (V) fix")
	}
}

func TestParseGGAAltitude(t *testing.T) {
	line := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	_, isRMC, alt, err := parseSentence(line)
	if err != nil {
		t.Fatal(err)
	}
	if isRMC {
		t.Fatal("want GGA not classified as RMC")
	}
	if alt != 545.4 {
		t.Errorf("want altitude 545.4, got %v", alt)
	}
}

func TestParseIgnoredSentenceType(t *testing.T) {
	line := "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39"
	_, _, _, err := parseSentence(line)
	if err != errIgnoredSentence {
		t.Errorf("want errIgnoredSentence, got %v", err)
	}
}

func TestParseSentenceMissingDollar(t *testing.T) {
	_, _, _, err := parseSentence("GPRMC,123519,A")
	if err == nil {
		t.Fatal("want an error for a sentence missing '$'")
	}
}

func TestReplaySource(t *testing.T) {
	want := []fix.Fix{
		{Time: time.Unix(1, 0), Lat: 1, Lon: 1},
		{Time: time.Unix(2, 0), Lat: 2, Lon: 2},
	}
	src := NewReplaySource(want)

	ctx := context.Background()
	for i, w := range want {
		got, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("fix %d: %v", i, err)
		}
		if got != w {
			t.Errorf("fix %d: want %+v, got %+v", i, w, got)
		}
	}

	if _, err := src.Next(ctx); err != ErrReplayExhausted {
		t.Errorf("want ErrReplayExhausted, got %v", err)
	}
}
