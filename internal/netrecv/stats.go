package netrecv

import (
	"fmt"
	"sync"
	"time"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// PacketStats tracks receive statistics with thread-safe operations.
type PacketStats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	droppedCount int64
	sampleCount  int64
	lastReset    time.Time
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{
		lastReset: time.Now(),
	}
}

// AddPacket increments packet count and byte count.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped increments the dropped packet count.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddSamples increments the handled sample count.
func (ps *PacketStats) AddSamples(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.sampleCount += int64(count)
}

// GetAndReset returns current stats and resets counters.
func (ps *PacketStats) GetAndReset() (packets int64, bytes int64, dropped int64, samples int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	dropped = ps.droppedCount
	samples = ps.sampleCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.sampleCount = 0
	ps.lastReset = now

	return
}

// LogStats logs formatted statistics. Quiet intervals log nothing.
func (ps *PacketStats) LogStats() {
	packets, bytes, dropped, samples, duration := ps.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}

	packetsPerSec := float64(packets) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024
	samplesPerSec := float64(samples) / duration.Seconds()

	logMsg := fmt.Sprintf("UDP stats (/sec): %.1f KB, %.1f packets, %.1f samples",
		kbPerSec, packetsPerSec, samplesPerSec)
	if dropped > 0 {
		logMsg += fmt.Sprintf(", %d dropped on forward", dropped)
	}

	monitoring.Logf("%s", logMsg)
}
