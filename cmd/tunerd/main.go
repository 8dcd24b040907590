// Command tunerd demonstrates the broadcaster core wired end to end: it
// treats stdin as a stand-in tuner byte-stream (the real Tuner Manager is
// an out-of-scope collaborator; see internal/eit.TunerManager for the
// pinned interface) and fans it out to one demo subscriber while logging
// delivery stats, until the stream ends or the watchdog fires.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirakutu/tunerd/internal/broadcaster"
	"github.com/mirakutu/tunerd/internal/ids"
	"github.com/mirakutu/tunerd/internal/logger"
	"github.com/mirakutu/tunerd/internal/metrics"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	bid := broadcaster.Id(ids.NewBroadcasterId())
	b := broadcaster.New(ctx, bid, "demo", os.Stdin, int(cfg.chunkSize), cfg.timeLimit, met)

	sub, err := b.Subscribe(ctx, broadcaster.SubscriberId(ids.NewSubscriberId()))
	if err != nil {
		log.Error("failed to subscribe demo consumer", "error", err)
		os.Exit(1)
	}

	log.Info("tunerd started", "broadcaster_id", bid, "version", version, "tuners", cfg.listenTuners)

	go func() {
		total := 0
		for {
			c, ok := sub.Next(ctx)
			if !ok {
				log.Info("demo subscriber stream ended", "bytes_received", total)
				return
			}
			total += c.Len()
			c.Release()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	sub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-b.Done():
		log.Info("broadcaster stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
