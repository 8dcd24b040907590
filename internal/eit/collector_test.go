package eit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
)

// stubTunerStream wraps an in-memory reader as the tuner byte-stream the
// Collector pipes into its decoder pipeline.
type stubTunerStream struct {
	io.Reader
	closed bool
}

func (s *stubTunerStream) Close() error {
	s.closed = true
	return nil
}

type stubTunerManager struct {
	payload []byte
	started int
	fail    error
}

func (m *stubTunerManager) StartStreaming(ctx context.Context, channel EpgChannel, preFilters []string, user TunerUser) (io.ReadCloser, error) {
	m.started++
	if m.fail != nil {
		return nil, m.fail
	}
	if user.Priority != -1 {
		return nil, fmt.Errorf("expected low-priority user, got priority %d", user.Priority)
	}
	return &stubTunerStream{Reader: bytes.NewReader(m.payload)}, nil
}

type recordingEpgStore struct {
	mu        sync.Mutex
	batches   [][]EitSection
	flushes   [][]ServiceTriple
	services  []EpgService
	queryErr  error
}

func (e *recordingEpgStore) QueryServices(ctx context.Context) ([]EpgService, error) {
	return e.services, e.queryErr
}

func (e *recordingEpgStore) UpdateSchedules(ctx context.Context, sections []EitSection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := append([]EitSection(nil), sections...)
	e.batches = append(e.batches, cp)
}

func (e *recordingEpgStore) FlushSchedules(ctx context.Context, triples []ServiceTriple) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := append([]ServiceTriple(nil), triples...)
	e.flushes = append(e.flushes, cp)
}

func buildSectionLines(n int, triples []ServiceTriple) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		triple := triples[i%len(triples)]
		section := EitSection{
			ServiceTriple: triple,
			TableId:       0x50,
			SectionNumber: uint8(i % 8),
		}
		b, _ := json.Marshal(section)
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func TestCollectorBatchesSectionsAndFlushesDistinctTriples(t *testing.T) {
	t.Parallel()

	triples := []ServiceTriple{
		{OriginalNetworkId: 1, TransportStreamId: 1, ServiceId: 101},
		{OriginalNetworkId: 1, TransportStreamId: 1, ServiceId: 102},
		{OriginalNetworkId: 1, TransportStreamId: 1, ServiceId: 103},
	}
	payload := buildSectionLines(70, triples)

	tuner := &stubTunerManager{payload: payload}
	epg := &recordingEpgStore{}
	collector := NewCollector(tuner, epg, "/bin/cat", nil)

	channel := EpgChannel{Name: "ch1", Services: []uint16{101, 102, 103}}
	total, err := collector.Run(context.Background(), []EpgChannel{channel})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 70 {
		t.Fatalf("expected 70 total sections, got %d", total)
	}
	if tuner.started != 1 {
		t.Fatalf("expected exactly 1 StartStreaming call, got %d", tuner.started)
	}

	if len(epg.batches) != 3 {
		t.Fatalf("expected 3 UpdateSchedules batches, got %d", len(epg.batches))
	}
	if len(epg.batches[0]) != 32 || len(epg.batches[1]) != 32 || len(epg.batches[2]) != 6 {
		t.Fatalf("expected batch sizes 32,32,6, got %d,%d,%d",
			len(epg.batches[0]), len(epg.batches[1]), len(epg.batches[2]))
	}

	if len(epg.flushes) != 1 {
		t.Fatalf("expected exactly 1 FlushSchedules call, got %d", len(epg.flushes))
	}
	if len(epg.flushes[0]) != 3 {
		t.Fatalf("expected flush to carry 3 distinct triples, got %d", len(epg.flushes[0]))
	}
}

func TestCollectorAbortsRunOnTunerFailure(t *testing.T) {
	t.Parallel()

	tuner := &stubTunerManager{fail: fmt.Errorf("no tuner available")}
	epg := &recordingEpgStore{}
	collector := NewCollector(tuner, epg, "/bin/cat", nil)

	channels := []EpgChannel{{Name: "a"}, {Name: "b"}}
	_, err := collector.Run(context.Background(), channels)
	if err == nil {
		t.Fatalf("expected error from failed tuner acquisition")
	}
	if tuner.started != 1 {
		t.Fatalf("expected the run to abort after the first channel, got %d StartStreaming calls", tuner.started)
	}
}

func TestFeederGroupsServicesAndRunsCollector(t *testing.T) {
	t.Parallel()

	triple := ServiceTriple{OriginalNetworkId: 5, TransportStreamId: 5, ServiceId: 1}
	payload := buildSectionLines(1, []ServiceTriple{triple})

	tuner := &stubTunerManager{payload: payload}
	epg := &recordingEpgStore{
		services: []EpgService{
			{NetworkId: 5, ServiceId: 1, Channel: EpgChannelMeta{Name: "ch5", ChannelType: ChannelTypeGR, Channel: "13"}},
		},
	}

	feeder := NewFeeder(tuner, epg, "/bin/cat", nil)
	total, err := feeder.FeedEitSections(context.Background())
	if err != nil {
		t.Fatalf("FeedEitSections: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 section, got %d", total)
	}
}
