package netrecv

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// DroppedStats receives dropped-packet notifications from the forwarder.
type DroppedStats interface {
	AddDropped()
}

// PacketForwarder mirrors received datagrams to another address without
// blocking the receive loop. A dev laptop can tap a live unit's sample
// stream this way.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       DroppedStats
	logInterval time.Duration
	address     string
}

// NewPacketForwarder creates a forwarder that sends packets to addr:port.
func NewPacketForwarder(addr string, port int, stats DroppedStats, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := fmt.Sprintf("%s:%d", addr, port)
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Start begins the forwarding goroutine. Write failures are counted and
// reported on the log interval rather than per packet.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Logf("\033[93mDropped %d forwarded packets due to errors (latest: %v)\033[0m", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding packets to %s", f.address)
}

// ForwardAsync queues a packet for forwarding without blocking. If the
// queue is full the packet is dropped and counted.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	// Copy: the caller reuses its receive buffer.
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close closes the UDP connection and channel.
func (f *PacketForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
