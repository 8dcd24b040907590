package eit

import (
	"context"
	"log/slog"

	"github.com/mirakutu/tunerd/internal/logger"
	"github.com/mirakutu/tunerd/internal/metrics"
)

// Feeder is a thin supervisor that, on request, enumerates channels from
// the EPG store and runs a Collector over them.
type Feeder struct {
	tuner       TunerManager
	epg         EpgStore
	cmdTemplate string
	met         *metrics.Registry
	log         *slog.Logger
}

// NewFeeder constructs a Feeder driving Collector runs against tuner and
// epg using cmdTemplate as the decoder pipeline's command line.
func NewFeeder(tuner TunerManager, epg EpgStore, cmdTemplate string, met *metrics.Registry) *Feeder {
	return &Feeder{
		tuner:       tuner,
		epg:         epg,
		cmdTemplate: cmdTemplate,
		met:         met,
		log:         logger.Logger().With("component", "eit.feeder"),
	}
}

// FeedEitSections queries the EPG for all services, groups them by network
// id into EpgChannel records, and runs a Collector over the result,
// returning the total number of sections harvested.
func (f *Feeder) FeedEitSections(ctx context.Context) (int, error) {
	services, err := f.epg.QueryServices(ctx)
	if err != nil {
		return 0, err
	}

	channels := GroupByNetwork(services)
	collector := NewCollector(f.tuner, f.epg, f.cmdTemplate, f.met)
	f.log.Info("starting eit collection", "channels", len(channels))
	return collector.Run(ctx, channels)
}

// GroupByNetwork collapses services sharing a network id into one
// EpgChannel record: Services accumulates every service id seen for that
// network id, in first-seen order; ExcludedServices and channel metadata
// are taken from the first service seen for that network.
func GroupByNetwork(services []EpgService) []EpgChannel {
	order := make([]uint16, 0, len(services))
	byNetwork := make(map[uint16]*EpgChannel, len(services))

	for _, svc := range services {
		ch, ok := byNetwork[svc.NetworkId]
		if !ok {
			ch = &EpgChannel{
				Name:             svc.Channel.Name,
				ChannelType:      svc.Channel.ChannelType,
				Channel:          svc.Channel.Channel,
				ExtraArgs:        svc.Channel.ExtraArgs,
				ExcludedServices: svc.Channel.ExcludedServices,
			}
			byNetwork[svc.NetworkId] = ch
			order = append(order, svc.NetworkId)
		}
		ch.Services = append(ch.Services, svc.ServiceId)
	}

	out := make([]EpgChannel, 0, len(order))
	for _, nid := range order {
		out = append(out, *byNetwork[nid])
	}
	return out
}
