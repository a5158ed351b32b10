package server

import (
	"log"

	"github.com/robfig/cron"
)

// nonceBudget is the envelope count per key beyond which random 96-bit
// nonce collisions stop being negligible.  Operators are expected to
// rotate the pre-shared key long before the counter gets here.
const nonceBudget = uint64(1) << 32

// warnFractions are the fractions of nonceBudget at which the watch
// starts logging, most urgent last.
var warnFractions = []float64{0.01, 0.10, 0.50}

// envelopeCounter is the slice of Handler the watch reads.
type envelopeCounter interface {
	EnvelopesOpened() uint64
}

// NonceBudgetWatch periodically compares the count of envelopes opened
// under the current key against the nonce collision budget and logs an
// escalating warning as the count grows.  It is housekeeping only - it
// never blocks or rejects traffic.  The same cron-driven shape as the
// daily log's end-of-day job.
type NonceBudgetWatch struct {
	counter envelopeCounter
	logger  *log.Logger
	cronjob *cron.Cron

	// warned is the index into warnFractions of the next threshold to
	// report, so each level is logged once per crossing rather than
	// every hour forever.
	warned int
}

// StartNonceBudgetWatch creates a watch over counter and schedules an
// hourly check.  Call Stop on shutdown.
func StartNonceBudgetWatch(counter envelopeCounter, logger *log.Logger) *NonceBudgetWatch {
	watch := &NonceBudgetWatch{counter: counter, logger: logger}
	cr := cron.New()
	cr.AddFunc("@hourly", watch.check)
	cr.Start()
	watch.cronjob = cr
	return watch
}

// Stop cancels the scheduled checks.
func (w *NonceBudgetWatch) Stop() {
	if w.cronjob != nil {
		w.cronjob.Stop()
	}
}

// check is the scheduled job.  It is also called directly by the tests.
func (w *NonceBudgetWatch) check() {
	opened := w.counter.EnvelopesOpened()
	for w.warned < len(warnFractions) {
		threshold := uint64(float64(nonceBudget) * warnFractions[w.warned])
		if opened < threshold {
			return
		}
		w.logf("server: %d envelopes opened under the current key, past %d%% of the nonce collision budget - plan a key rotation",
			opened, int(warnFractions[w.warned]*100))
		w.warned++
	}
}

func (w *NonceBudgetWatch) logf(format string, args ...interface{}) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
