package server

import (
	"sync"

	"streamviewer/internal/types"
)

// Stats are the streamer counters served at /healthz.
type Stats struct {
	mu          sync.Mutex
	mode        string
	emitted     int
	lastLatency *float64
	lastSeq     *int
	seen        int
	stored      int
}

func NewStats(mode string) *Stats { return &Stats{mode: mode} }

// FrameEmitted records one broadcast frame. Every sampleEvery-th frame is
// also counted as a stored sample.
func (s *Stats) FrameEmitted(seq int, latencyMS float64, sampleEvery int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted++
	s.lastSeq, s.lastLatency = &seq, &latencyMS
	s.seen++
	if sampleEvery > 0 && seq%sampleEvery == 0 {
		s.stored++
	}
}

func (s *Stats) Snapshot() types.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.Health{
		StreamingMode:  s.mode,
		SamplerTotals:  types.SamplerTotals{Seen: s.seen, Stored: s.stored},
		FramesEmitted:  s.emitted,
		FrameLatencyMS: s.lastLatency,
		LastFrameSeq:   s.lastSeq,
	}
}
