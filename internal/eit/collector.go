package eit

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	tunerderrors "github.com/mirakutu/tunerd/internal/errors"
	"github.com/mirakutu/tunerd/internal/logger"
	"github.com/mirakutu/tunerd/internal/metrics"
)

// UpdateChunkSize is the batch size the Collector accumulates EitSections
// into before dispatching UpdateSchedules.
const UpdateChunkSize = 32

// Collector drives a single end-to-end EIT harvest run across a list of
// channels, acquiring a tuner and spawning a decoder pipeline for each one
// in turn.
type Collector struct {
	tuner       TunerManager
	epg         EpgStore
	cmdTemplate string
	met         *metrics.Registry
	log         *slog.Logger
}

// NewCollector constructs a Collector that spawns cmdTemplate for each
// channel it is asked to run.
func NewCollector(tuner TunerManager, epg EpgStore, cmdTemplate string, met *metrics.Registry) *Collector {
	return &Collector{
		tuner:       tuner,
		epg:         epg,
		cmdTemplate: cmdTemplate,
		met:         met,
		log:         logger.Logger().With("component", "eit.collector"),
	}
}

// Run harvests EIT sections across channels sequentially, returning the
// total number of sections read across the whole run. Any per-channel
// failure aborts the run immediately: there is no per-channel isolation,
// a conscious conservatism the caller may re-schedule around.
func (c *Collector) Run(ctx context.Context, channels []EpgChannel) (int, error) {
	total := 0
	for _, channel := range channels {
		n, err := c.runChannel(ctx, channel)
		total += n
		if err != nil {
			return total, err
		}
		c.log.Info("read sections from channel", "channel", channel.Name, "sections", n)
	}
	return total, nil
}

func (c *Collector) runChannel(ctx context.Context, channel EpgChannel) (int, error) {
	user := LowPriorityUser()
	stream, err := c.tuner.StartStreaming(ctx, channel, nil, user)
	if err != nil {
		return 0, tunerderrors.NewTunerError("collector.startStreaming", err)
	}

	pipeline, err := NewPipeline(ctx, c.cmdTemplate, channel)
	if err != nil {
		stream.Close()
		return 0, err
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		io.Copy(pipeline.Input(), stream)
		pipeline.Input().Close()
		stream.Close()
	}()

	count := 0
	seen := make(map[ServiceTriple]struct{})
	batch := make([]EitSection, 0, UpdateChunkSize)

	scanner := bufio.NewScanner(pipeline.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var readErr error
	for scanner.Scan() {
		var section EitSection
		if err := json.Unmarshal(scanner.Bytes(), &section); err != nil {
			readErr = tunerderrors.NewDecodeError("collector.decode", err)
			break
		}
		count++
		if c.met != nil {
			c.met.EitSections.Inc()
		}
		seen[section.ServiceTriple] = struct{}{}
		batch = append(batch, section)
		if len(batch) == UpdateChunkSize {
			c.epg.UpdateSchedules(ctx, batch)
			batch = make([]EitSection, 0, UpdateChunkSize)
		}
	}
	if readErr == nil {
		if err := scanner.Err(); err != nil {
			readErr = tunerderrors.NewStreamError("collector.read", err)
		}
	}

	if len(batch) > 0 {
		c.epg.UpdateSchedules(ctx, batch)
	}

	// Drop the pipeline handle first: this kills the remaining child
	// processes, so the pump goroutine above fails its next write into the
	// pipeline's input and closes the tuner byte-stream. Awaiting it
	// (pumpDone) guarantees the tuner has actually been released before
	// the next channel's StartStreaming is issued.
	closeErr := pipeline.Close()
	<-pumpDone

	if readErr != nil {
		return count, readErr
	}
	if closeErr != nil {
		return count, tunerderrors.NewPipelineError("collector.pipelineClose", closeErr)
	}

	triples := make([]ServiceTriple, 0, len(seen))
	for t := range seen {
		triples = append(triples, t)
	}
	c.epg.FlushSchedules(ctx, triples)
	if c.met != nil {
		c.met.EitFlushes.Inc()
	}

	return count, nil
}
