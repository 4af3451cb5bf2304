package bitrate

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StreamKind identifies which media stream a bitrate cap applies to.
type StreamKind int

const (
	// StreamAudio selects the audio stream.
	StreamAudio StreamKind = iota
	// StreamVideo selects the video stream.
	StreamVideo
)

// String returns the string representation of StreamKind.
func (k StreamKind) String() string {
	if k == StreamVideo {
		return "video"
	}
	return "audio"
}

// StatsReader supplies raw connection statistics, typically backed by the
// session's transport handle.
type StatsReader interface {
	ReadStats() (Stats, error)
}

// Limiter applies a per-stream bitrate cap through the transport handle.
type Limiter interface {
	SetBitrateLimit(stream StreamKind, kbps int) error
}

// TimeProvider is an interface for creating tickers and reading the current
// time, allowing deterministic testing of the sampling loop.
type TimeProvider interface {
	Now() time.Time
	NewTicker(d time.Duration) *time.Ticker
}

// realTimeProvider backs the monitor with the system clock.
type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time                         { return time.Now() }
func (realTimeProvider) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// Config defines monitor sampling parameters.
type Config struct {
	// Interval between samples (default: 2s).
	Interval time.Duration

	// HasVideo controls whether the video cap is applied. Audio caps are
	// always applied.
	HasVideo bool

	// TimeProvider supplies the sampling ticker. If nil, the system clock
	// is used.
	TimeProvider TimeProvider
}

// DefaultConfig returns monitor configuration with the standard 2-second
// sampling interval.
func DefaultConfig(hasVideo bool) *Config {
	return &Config{
		Interval: 2 * time.Second,
		HasVideo: hasVideo,
	}
}

// Monitor samples link quality for one connected session and applies tiered
// bitrate caps. It starts when the session reaches its connected state and
// is stopped and discarded when the session ends.
type Monitor struct {
	stats   StatsReader
	limiter Limiter
	config  *Config

	mu       sync.RWMutex
	lastTier Tier
	sampleCb func(Sample)
	running  bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a bitrate monitor over the given statistics source and
// limiter. A nil config uses DefaultConfig with video enabled.
func NewMonitor(stats StatsReader, limiter Limiter, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig(true)
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}

	return &Monitor{
		stats:    stats,
		limiter:  limiter,
		config:   config,
		lastTier: TierGood, // start optimistic, first sample corrects
		stop:     make(chan struct{}),
	}
}

// OnSample registers a callback invoked with every classified sample.
// Must be called before Start.
func (m *Monitor) OnSample(cb func(Sample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleCb = cb
}

// Start launches the sampling goroutine. Starting an already-running
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Start",
		"interval":  m.config.Interval,
		"has_video": m.config.HasVideo,
	}).Info("Bitrate monitor started")

	go m.loop()
}

// Stop terminates the sampling goroutine. Safe to call multiple times and
// concurrently with an in-flight sample.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
		}).Debug("Bitrate monitor stopped")
	})
}

// LastTier returns the most recently classified quality tier.
func (m *Monitor) LastTier() Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTier
}

func (m *Monitor) loop() {
	ticker := m.timeProvider().NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

// sampleOnce performs one read-classify-apply cycle. Failures are logged
// and skipped; the loop never dies from a bad cycle.
func (m *Monitor) sampleOnce() {
	stats, err := m.stats.ReadStats()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sampleOnce",
			"error":    err.Error(),
		}).Warn("Statistics read failed, skipping cycle")
		return
	}

	tier := Classify(stats.RTT, stats.worstLoss())
	sample := Sample{
		Stats:      stats,
		Tier:       tier,
		MeasuredAt: m.timeProvider().Now(),
	}

	m.mu.Lock()
	changed := m.lastTier != tier
	m.lastTier = tier
	cb := m.sampleCb
	m.mu.Unlock()

	if changed {
		logrus.WithFields(logrus.Fields{
			"function":     "sampleOnce",
			"tier":         tier.String(),
			"rtt_ms":       stats.RTT.Milliseconds(),
			"loss_percent": stats.worstLoss(),
		}).Info("Link quality tier changed")
	}

	m.applyCaps(tier)

	if cb != nil {
		cb(sample)
	}
}

// applyCaps pushes the tier's bitrate caps through the limiter. Apply
// failures are logged and skipped for the cycle.
func (m *Monitor) applyCaps(tier Tier) {
	audioKbps, videoKbps := Caps(tier)

	if err := m.limiter.SetBitrateLimit(StreamAudio, audioKbps); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyCaps",
			"stream":   StreamAudio.String(),
			"kbps":     audioKbps,
			"error":    err.Error(),
		}).Warn("Bitrate cap apply failed")
	}

	if !m.config.HasVideo {
		return
	}
	if err := m.limiter.SetBitrateLimit(StreamVideo, videoKbps); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyCaps",
			"stream":   StreamVideo.String(),
			"kbps":     videoKbps,
			"error":    err.Error(),
		}).Warn("Bitrate cap apply failed")
	}
}

func (m *Monitor) timeProvider() TimeProvider {
	if m.config.TimeProvider != nil {
		return m.config.TimeProvider
	}
	return realTimeProvider{}
}
