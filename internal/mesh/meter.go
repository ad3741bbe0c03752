package mesh

import (
	"math"
	"sync"

	"github.com/pion/rtp"
)

// audioLevelExtensionID is the id the media engine assigns to the first
// registered audio header extension.
const audioLevelExtensionID = 1

// defaultMeterWindow smooths roughly the last half second of packets at
// typical 20ms audio ptime.
const defaultMeterWindow = 25

// LevelMeter derives a rolling linear audio level from the ssrc-audio-level
// RTP header extension (RFC 6464). Levels arrive as dBov attenuation
// (0 loudest, 127 silence) and are converted to a 0..1 linear scale before
// averaging, so a threshold comparison behaves like an analyser readout.
type LevelMeter struct {
	mu     sync.Mutex
	window []float64
	idx    int
	filled int
}

func NewLevelMeter(windowSize int) *LevelMeter {
	if windowSize <= 0 {
		windowSize = defaultMeterWindow
	}
	return &LevelMeter{window: make([]float64, windowSize)}
}

// ObservePacket extracts the audio level extension from an RTP packet.
// Packets without the extension are ignored.
func (m *LevelMeter) ObservePacket(pkt *rtp.Packet) {
	payload := pkt.GetExtension(audioLevelExtensionID)
	if payload == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(payload); err != nil {
		return
	}
	m.Observe(dbovToLinear(ext.Level))
}

// Observe records one linear level sample in [0,1].
func (m *LevelMeter) Observe(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window[m.idx] = level
	m.idx = (m.idx + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}
}

// Average returns the rolling mean level, 0 when no samples arrived yet.
func (m *LevelMeter) Average() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += m.window[i]
	}
	return sum / float64(m.filled)
}

// Reset clears the window, e.g. when a stream is replaced.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.window {
		m.window[i] = 0
	}
	m.idx = 0
	m.filled = 0
}

func dbovToLinear(level uint8) float64 {
	if level >= 127 {
		return 0
	}
	return math.Pow(10, -float64(level)/20)
}
