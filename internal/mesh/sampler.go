package mesh

import (
	"sort"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/pkg/utils"
)

// qualityLoop samples transport statistics for every connected peer and
// classifies them. The overall level is the worst among connected peers,
// unknown when none are connected or none have produced a sample yet.
func (m *Manager) qualityLoop() {
	ticker := time.NewTicker(m.cfg.QualityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sampleQuality()
		}
	}
}

func (m *Manager) sampleQuality() {
	m.mu.Lock()
	connected := make([]*peerSlot, 0, len(m.slots))
	for _, slot := range m.slots {
		if slot.state == domain.PeerStateConnected {
			connected = append(connected, slot)
		}
	}
	m.mu.Unlock()

	overall := domain.QualityUnknown
	for _, slot := range connected {
		stats := slot.conn.Stats()
		stats.RemoteID = slot.remoteID
		stats.SampledAt = utils.Now()
		stats.Quality = domain.ClassifyQuality(stats.RTT, stats.PacketLossPct)

		m.mu.Lock()
		slot.stats = stats
		slot.quality = stats.Quality
		m.mu.Unlock()

		if stats.Quality == domain.QualityUnknown {
			continue
		}
		if overall == domain.QualityUnknown || stats.Quality < overall {
			overall = stats.Quality
		}
	}

	m.mu.Lock()
	m.overall = overall
	m.mu.Unlock()

	if m.onQuality != nil {
		m.onQuality(overall, m.Peers())
	}
}

// ObserveLocalLevel feeds one linear level sample for the local microphone,
// so the local participant shows up in speaking detection alongside remotes.
func (m *Manager) ObserveLocalLevel(level float64) {
	m.localMeter.Observe(level)
}

// speakingLoop polls every level meter and reports the speaking set whenever
// it changes.
func (m *Manager) speakingLoop() {
	ticker := time.NewTicker(m.cfg.SpeakingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sampleSpeaking()
		}
	}
}

func (m *Manager) sampleSpeaking() {
	m.mu.Lock()
	current := make(map[string]bool, len(m.slots)+1)
	if m.localMeter.Average() > m.cfg.SpeakingThreshold {
		current[m.cfg.UserID] = true
	}
	for remoteID, slot := range m.slots {
		if slot.meter.Average() > m.cfg.SpeakingThreshold {
			current[remoteID] = true
		}
	}
	changed := len(current) != len(m.speaking)
	if !changed {
		for id := range current {
			if !m.speaking[id] {
				changed = true
				break
			}
		}
	}
	m.speaking = current
	m.mu.Unlock()

	if !changed || m.onSpeaking == nil {
		return
	}
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	m.onSpeaking(ids)
}

// Speaking returns the ids currently marked as speaking.
func (m *Manager) Speaking() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.speaking))
	for id := range m.speaking {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
