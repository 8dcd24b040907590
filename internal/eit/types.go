// Package eit implements the EIT Collector (C4) and EIT Feeder (C5): the
// channel-by-channel harvest of Event Information Table sections out of a
// tuned MPEG-TS stream, and the thin supervisor that feeds it from the EPG
// store's service list.
package eit

import (
	"encoding/json"
	"time"
)

// ServiceTriple uniquely identifies a broadcast service across the whole
// transport-stream hierarchy.
type ServiceTriple struct {
	OriginalNetworkId uint16 `json:"originalNetworkId"`
	TransportStreamId uint16 `json:"transportStreamId"`
	ServiceId         uint16 `json:"serviceId"`
}

// DescriptorType is the $type discriminator of an EitEvent descriptor's
// tagged union.
type DescriptorType string

// Descriptor kinds carried by an EitEvent, per the wire format's tagged
// union.
const (
	DescriptorShortEvent     DescriptorType = "ShortEvent"
	DescriptorComponent      DescriptorType = "Component"
	DescriptorAudioComponent DescriptorType = "AudioComponent"
	DescriptorContent        DescriptorType = "Content"
	DescriptorExtendedEvent  DescriptorType = "ExtendedEvent"
)

// Descriptor is one member of an EitEvent's descriptor list. Its payload is
// kept as raw JSON: the wire format tags each descriptor with a literal
// "$type" key, but per-type field layouts are a concern of the EPG store
// that ultimately consumes them, not of the collector.
type Descriptor struct {
	Type DescriptorType
	Raw  json.RawMessage
}

// UnmarshalJSON extracts the $type discriminator and retains the full
// object as Raw.
func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var head struct {
		Type DescriptorType `json:"$type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	d.Type = head.Type
	d.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON re-emits the originally decoded object verbatim.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	if d.Raw == nil {
		return []byte("null"), nil
	}
	return d.Raw, nil
}

// EitEvent is one programme entry within an EitSection.
type EitEvent struct {
	EventId        uint16       `json:"eventId"`
	StartTime      time.Time    `json:"startTime"`
	DurationMillis int64        `json:"duration"`
	Scrambled      bool         `json:"scrambled"`
	Descriptors    []Descriptor `json:"descriptors"`
}

// Duration returns the event's duration as a time.Duration.
func (e EitEvent) Duration() time.Duration {
	return time.Duration(e.DurationMillis) * time.Millisecond
}

// EitSection is decoded from one line of the decoder pipeline's
// newline-delimited JSON stream.
type EitSection struct {
	ServiceTriple
	TableId                  uint8      `json:"tableId"`
	SectionNumber            uint8      `json:"sectionNumber"`
	LastSectionNumber        uint8      `json:"lastSectionNumber"`
	SegmentLastSectionNumber uint8      `json:"segmentLastSectionNumber"`
	VersionNumber            uint8      `json:"versionNumber"`
	Events                   []EitEvent `json:"events"`
}

// TableIndex is the section's table_id offset from the EIT table range
// floor (0x50).
func (s EitSection) TableIndex() int { return int(s.TableId) - 0x50 }

// SegmentIndex is the section's position among 8-section segments.
func (s EitSection) SegmentIndex() int { return int(s.SectionNumber) / 8 }

// SectionIndex is the section's position within its own segment.
func (s EitSection) SectionIndex() int { return int(s.SectionNumber) % 8 }

// LastSectionIndex is the final section's position within its segment.
func (s EitSection) LastSectionIndex() int { return int(s.SegmentLastSectionNumber) % 8 }

// ChannelType classifies a tunable channel (terrestrial, satellite, ...).
type ChannelType string

// Channel types recognised by the EPG store and tuner manager.
const (
	ChannelTypeGR  ChannelType = "GR"
	ChannelTypeBS  ChannelType = "BS"
	ChannelTypeCS  ChannelType = "CS"
	ChannelTypeSKY ChannelType = "SKY"
)

// EpgChannel is a tunable channel as seen by the collector: one or more
// services sharing a physical/logical channel.
type EpgChannel struct {
	Name             string
	ChannelType      ChannelType
	Channel          string
	ExtraArgs        string
	Services         []uint16
	ExcludedServices []uint16
}

// EpgChannelMeta is the channel metadata attached to one EpgService record.
type EpgChannelMeta struct {
	Name             string
	ChannelType      ChannelType
	Channel          string
	ExtraArgs        string
	ExcludedServices []uint16
}

// EpgService is one service as returned by EpgStore.QueryServices.
type EpgService struct {
	NetworkId uint16
	ServiceId uint16
	Channel   EpgChannelMeta
}

// Job tags a TunerUser with a human-readable purpose for logging.
type Job struct {
	Name string
}

// TunerUser identifies who is requesting a tuned stream and at what
// priority. Higher priority wins; -1 is below every ordinary viewer.
type TunerUser struct {
	Info     Job
	Priority int
}

// LowPriorityUser is the TunerUser every Collector run presents: priority
// -1, preemptible by any normal viewer so EIT harvesting never starves
// live playback.
func LowPriorityUser() TunerUser {
	return TunerUser{Info: Job{Name: "eit-collector"}, Priority: -1}
}
