package bitrate

import (
	"fmt"
	"time"
)

// Tier is a coarse link-quality bucket derived from observed network
// conditions, used to drive bitrate policy.
type Tier int

const (
	// TierExcellent indicates optimal link conditions.
	TierExcellent Tier = iota
	// TierGood indicates minor degradation.
	TierGood
	// TierFair indicates noticeable degradation.
	TierFair
	// TierPoor indicates significant degradation.
	TierPoor
)

// String returns the string representation of Tier.
func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierFair:
		return "fair"
	case TierPoor:
		return "poor"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Classification thresholds. A sample lands in a tier when either its RTT or
// its packet loss exceeds that tier's threshold; ties break toward the worse
// tier by evaluating poor first.
const (
	poorRTT = 300 * time.Millisecond
	fairRTT = 200 * time.Millisecond
	goodRTT = 100 * time.Millisecond

	poorLossPercent = 5.0
	fairLossPercent = 3.0
	goodLossPercent = 1.0
)

// Classify derives the quality tier from round-trip time and packet loss.
func Classify(rtt time.Duration, lossPercent float64) Tier {
	switch {
	case rtt > poorRTT || lossPercent > poorLossPercent:
		return TierPoor
	case rtt > fairRTT || lossPercent > fairLossPercent:
		return TierFair
	case rtt > goodRTT || lossPercent > goodLossPercent:
		return TierGood
	default:
		return TierExcellent
	}
}

// Caps returns the per-stream bitrate caps for a tier, in kbps.
func Caps(tier Tier) (audioKbps, videoKbps int) {
	switch tier {
	case TierPoor:
		return 32, 500
	case TierFair:
		return 48, 1000
	case TierGood:
		return 64, 2000
	default:
		return 128, 3000
	}
}

// Stats is one raw statistics snapshot read from a transport handle.
type Stats struct {
	AudioBitrateKbps int
	AudioLossPercent float64
	AudioJitter      time.Duration

	VideoBitrateKbps int
	VideoLossPercent float64
	VideoFrameRate   float64
	VideoWidth       int
	VideoHeight      int

	RTT time.Duration
}

// Sample is one classified quality measurement. Samples are ephemeral:
// recomputed every interval and never persisted.
type Sample struct {
	Stats
	Tier       Tier
	MeasuredAt time.Time
}

// worstLoss returns the higher of the audio and video loss percentages, the
// value classification is driven by.
func (s Stats) worstLoss() float64 {
	if s.VideoLossPercent > s.AudioLossPercent {
		return s.VideoLossPercent
	}
	return s.AudioLossPercent
}
