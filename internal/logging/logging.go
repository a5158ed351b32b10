// Package logging builds the loggers the outpost binaries write to: a
// plain event log on stderr, or a daily rolling event log file named
// after the date ("outpost-server.20260801.log").  Components take a
// *log.Logger argument and tolerate nil, so unit tests run silent by
// default.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/goblimey/go-tools/dailylogger"
)

// eventLogFlags is the format shared by both binaries' event logs.
const eventLogFlags = log.LstdFlags | log.Lshortfile | log.Lmicroseconds

// New creates an event logger writing to stderr.
func New(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, eventLogFlags)
}

// NewDaily creates an event logger backed by a daily rolling log file in
// directory, named prefix.{date}.log.  The file rolls over at midnight
// and a restart during the day appends to the existing file.
func NewDaily(directory, prefix string) *log.Logger {
	writer := dailylogger.New(directory, prefix+".", ".log")
	return log.New(writer, prefix, eventLogFlags)
}

// NewJournal creates a daily rolling journal writer for decoded batch
// plaintexts, a verbatim record suitable for later post-processing or
// replay into another store.  Each day's batches land in
// batches.{date}.bin in directory.
func NewJournal(directory string) io.Writer {
	return dailylogger.New(directory, "batches.", ".bin")
}
