// The outpost-server listens for encrypted batch envelopes on a single
// CoAP-style UDP resource, /position, and appends the decoded fixes to
// the configured sink.
//
// Usage:
//
//	outpost-server --config /etc/outpost/outpost-server.json
//
// On the deployed profile the key file's path comes from the
// OUTPOST_PSK_PATH environment variable rather than the config file, so
// the secret's location stays out of configuration management.  Startup
// failures (bad config, unreadable key, bind failure) are fatal and
// exit non-zero.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/goblimey/outpost/internal/config"
	"github.com/goblimey/outpost/internal/logging"
	"github.com/goblimey/outpost/internal/server"
	"github.com/goblimey/outpost/internal/sink"
	"github.com/goblimey/outpost/internal/transport"
)

// resourcePath is the one resource the server exposes.
const resourcePath = "/position"

// memorySinkCapacity bounds the built-in sink's retained history.  A
// real deployment puts a persistent store behind the Sink interface
// instead; the in-memory sink exists for tests and demos.
const memorySinkCapacity = 1024

func main() {
	configFileName := flag.String("config", "./outpost-server.json", "path of the JSON config file")
	flag.Parse()

	eventLog := logging.New("outpost-server ")

	cfg, err := config.GetServerConfig(*configFileName)
	if err != nil {
		eventLog.Fatalf("cannot load config: %v", err)
	}

	key, err := config.LoadKey(cfg.PSKPath)
	if err != nil {
		eventLog.Fatalf("cannot load pre-shared key: %v", err)
	}

	if cfg.SinkDSN != "memory" {
		// The persistent geospatial store is an external collaborator
		// supplied behind the sink.Sink interface; this binary only
		// ships the in-memory reference implementation.
		eventLog.Fatalf("unsupported sink dsn %q: only \"memory\" is built in", cfg.SinkDSN)
	}
	store := sink.NewMemorySink(memorySinkCapacity)

	var journal io.Writer
	if cfg.JournalDirectory != "" {
		journal = logging.NewJournal(cfg.JournalDirectory)
	}

	handler := server.New(key, store, journal, eventLog)

	watch := server.StartNonceBudgetWatch(handler, eventLog)
	defer watch.Stop()

	srv := transport.NewServer(resourcePath, handler, eventLog)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort)
	conn, err := srv.Listen(addr)
	if err != nil {
		eventLog.Fatalf("cannot bind %s: %v", addr, err)
	}

	// Closing the socket on a signal makes Serve return, which is the
	// whole of graceful shutdown here: the server holds no state beyond
	// the key and the sink handle.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		eventLog.Println("shutting down")
		conn.Close()
	}()

	eventLog.Printf("listening on %s, resource %s", addr, resourcePath)

	err = srv.Serve(conn)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		eventLog.Printf("serve loop failed: %v", err)
		os.Exit(1)
	}
}
