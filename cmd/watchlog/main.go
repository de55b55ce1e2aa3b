// Command watchlog ingests watch-check events as newline-delimited JSON on
// stdin and records them into the configured SQL backend. It is the
// operational harness around the logging engine; host applications embed the
// packages directly instead.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/watchlog/watchlog/internal/backend"
	"github.com/watchlog/watchlog/internal/config"
	"github.com/watchlog/watchlog/internal/lookup"
	"github.com/watchlog/watchlog/internal/recorder"
	"github.com/watchlog/watchlog/internal/schema"
)

func main() {
	// 1. Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// 2. Open the backend and bring the schema up to date. Both are fatal:
	// the engine must not run without its schema.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := backend.Open(ctx, cfg.BackendConfig())
	if err != nil {
		log.Fatalf("open backend: %v", err)
	}
	defer pool.Close()

	if err := schema.Ensure(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	log.WithField("backend", pool.Kind()).Info("schema ready, accepting events")

	// 3. Wire resolver + writer and stream events from stdin.
	resolver := lookup.NewResolver(pool)
	writer := recorder.NewWriter(pool, resolver, recorder.Options{
		AppGUID:   cfg.AppGUID,
		Hostname:  cfg.Hostname,
		OpTimeout: cfg.OpTimeout.Std(),
	})

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var accepted int
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev recorder.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			log.WithField("err", err).Warn("skipping malformed event line")
			continue
		}
		// Record is fail-open: it finishes within the operation timeout and
		// never propagates a logging failure.
		writer.Record(context.Background(), ev)
		accepted++
	}
	if err := scanner.Err(); err != nil {
		log.WithField("err", err).Warn("stdin read ended with error")
	}
	log.WithField("events", accepted).Info("ingest finished")
}
