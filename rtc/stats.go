package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/opd-ai/callcore/bitrate"
)

// statsTracker keeps the previous byte counters so sampled bitrates can be
// derived from deltas between reads.
type statsTracker struct {
	mu        sync.Mutex
	lastRead  time.Time
	lastBytes map[string]uint64
}

// rate converts a cumulative byte counter into kbps since the previous read
// of the same stream kind.
func (t *statsTracker) rate(kind string, bytes uint64, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastBytes == nil {
		t.lastBytes = make(map[string]uint64)
	}

	prev, seen := t.lastBytes[kind]
	elapsed := now.Sub(t.lastRead)
	t.lastBytes[kind] = bytes

	if !seen || elapsed <= 0 || bytes < prev {
		return 0
	}
	return int(float64(bytes-prev) * 8 / 1000 / elapsed.Seconds())
}

func (t *statsTracker) stamp(now time.Time) {
	t.mu.Lock()
	t.lastRead = now
	t.mu.Unlock()
}

// ReadStats collects one connection statistics snapshot for the adaptive
// bitrate monitor. Round-trip time comes from the nominated candidate pair,
// loss from the remote inbound reports for our outbound streams.
func (p *Peer) ReadStats() (bitrate.Stats, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return bitrate.Stats{}, ErrPeerClosed
	}
	p.mu.Unlock()

	now := time.Now()
	report := p.pc.GetStats()

	var s bitrate.Stats
	for _, entry := range report {
		switch st := entry.(type) {
		case webrtc.ICECandidatePairStats:
			if st.State == webrtc.StatsICECandidatePairStateSucceeded && st.CurrentRoundTripTime > 0 {
				s.RTT = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			}

		case webrtc.RemoteInboundRTPStreamStats:
			loss := st.FractionLost * 100
			switch st.Kind {
			case "audio":
				s.AudioLossPercent = loss
			case "video":
				s.VideoLossPercent = loss
			}
			if s.RTT == 0 && st.RoundTripTime > 0 {
				s.RTT = time.Duration(st.RoundTripTime * float64(time.Second))
			}

		case webrtc.InboundRTPStreamStats:
			if st.Kind == "audio" {
				s.AudioJitter = time.Duration(st.Jitter * float64(time.Second))
			}

		case webrtc.OutboundRTPStreamStats:
			kbps := p.stats.rate(st.Kind, st.BytesSent, now)
			switch st.Kind {
			case "audio":
				s.AudioBitrateKbps = kbps
			case "video":
				s.VideoBitrateKbps = kbps
				s.VideoFrameRate = st.FramesPerSecond
				s.VideoWidth = int(st.FrameWidth)
				s.VideoHeight = int(st.FrameHeight)
			}
		}
	}
	p.stats.stamp(now)

	return s, nil
}
