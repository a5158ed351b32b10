// The outpost-client reads GPS fixes from a serial-attached NMEA device,
// filters near-duplicates, accumulates batches, and ships each batch as
// an encrypted envelope to the outpost server.  It runs until killed.
//
// Usage:
//
//	outpost-client --config /etc/outpost/outpost.json
//
// The JSON config file names the serial device, baud rate, server
// address and key file - see internal/config for the full option list.
// A bad config or an unreadable key at startup is fatal: there is no
// recovery without a configuration change, so the process exits
// non-zero and leaves restarting to the service supervisor.  A GPS
// device that cannot be opened is not fatal; it is retried until it
// appears.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goblimey/outpost/internal/client"
	"github.com/goblimey/outpost/internal/clock"
	"github.com/goblimey/outpost/internal/config"
	"github.com/goblimey/outpost/internal/logging"
	"github.com/goblimey/outpost/internal/nmea"
	"github.com/goblimey/outpost/internal/transport"
)

// flushPollInterval is how often the pipeline checks whether the flush
// timer has expired.  It only bounds the timer's granularity, not the
// flush interval itself.
const flushPollInterval = time.Second

// deviceRetryInterval is the pause between attempts to reopen a GPS
// device that has dropped off the USB bus.
const deviceRetryInterval = 2 * time.Second

func main() {
	configFileName := flag.String("config", "./outpost.json", "path of the JSON config file")
	flag.Parse()

	eventLog := logging.New("outpost-client ")

	cfg, err := config.GetClientConfig(*configFileName)
	if err != nil {
		eventLog.Fatalf("cannot load config: %v", err)
	}

	key, err := config.LoadKey(cfg.PSKPath)
	if err != nil {
		eventLog.Fatalf("cannot load pre-shared key: %v", err)
	}

	// The source reconnects on its own if the GPS drops off the bus, so
	// an unopenable device at startup just means "keep trying" - unlike
	// a bad config or key, a loose USB plug fixes itself.
	source := nmea.NewReconnectingSource([]string{cfg.Device}, cfg.Baud, deviceRetryInterval, eventLog)
	defer source.Close()

	sender, err := transport.Dial(cfg.OutpostHost)
	if err != nil {
		eventLog.Fatalf("cannot create transport context for %s: %v", cfg.OutpostHost, err)
	}
	defer sender.Close()

	pipeline := client.New(
		cfg.SimilarityThreshold,
		time.Duration(cfg.FlushIntervalSeconds)*time.Second,
		clock.NewSystemClock(),
		sender,
		key,
		eventLog,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventLog.Printf("reading %s at %d baud, sending to %s", cfg.Device, cfg.Baud, cfg.OutpostHost)

	err = pipeline.Run(ctx, source, flushPollInterval)
	if errors.Is(err, context.Canceled) {
		// Shut down on signal.  Any un-flushed buffer is discarded; the
		// protocol is best-effort and a resurrected stale batch after
		// restart would backdate the track.
		eventLog.Println("shutting down")
		return
	}
	eventLog.Printf("fix source failed: %v", err)
	os.Exit(1)
}
