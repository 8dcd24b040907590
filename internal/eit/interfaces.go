package eit

import (
	"context"
	"io"
)

// TunerManager is the external collaborator that hands out exclusive,
// priority-preemptible byte-streams for a (channel, user) pair. Its
// internals (device arbitration, preemption) are out of scope here; only
// this interface is pinned.
type TunerManager interface {
	// StartStreaming requests a tuned byte-stream for channel. preFilters is
	// always empty for the collector's use. Failing to find or hold a tuner
	// returns an error.
	StartStreaming(ctx context.Context, channel EpgChannel, preFilters []string, user TunerUser) (io.ReadCloser, error)
}

// EpgStore is the external EPG collaborator. UpdateSchedules and
// FlushSchedules are fire-and-forget: the store processes them in call
// order and must tolerate a run that delivers updates without a matching
// flush (idempotent merging, no final-close-required invariant).
type EpgStore interface {
	// QueryServices returns every known service, used by the Feeder to
	// build the channel list for a collection run.
	QueryServices(ctx context.Context) ([]EpgService, error)

	// UpdateSchedules delivers one batch of decoded sections.
	UpdateSchedules(ctx context.Context, sections []EitSection)

	// FlushSchedules signals that no more updates will arrive for the
	// given triples in this run.
	FlushSchedules(ctx context.Context, triples []ServiceTriple)
}
