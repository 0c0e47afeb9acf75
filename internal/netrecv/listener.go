// Package netrecv receives accelerometer sample payloads over UDP and
// replays recorded capture files. WiFi bridges and phone apps stream the
// same line formats the serial transport produces, one or more lines per
// datagram.
package netrecv

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// PayloadHandler consumes one payload line. Returned errors are logged and
// the stream continues; a handler must never assume well-formed input.
type PayloadHandler func(payload string) error

// PacketStatsInterface provides packet statistics management.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddSamples(count int)
	LogStats()
}

// UDPListener receives sample datagrams and hands their payload lines to a
// handler, with optional raw-packet forwarding and periodic statistics.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	socketFactory UDPSocketFactory
	socket        UDPSocket
	stats         PacketStatsInterface
	forwarder     *PacketForwarder
	handler       PayloadHandler
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	SocketFactory UDPSocketFactory // nil means real sockets
	Stats         PacketStatsInterface
	Forwarder     *PacketForwarder
	Handler       PayloadHandler
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	// A no-op stats implementation when none is supplied avoids nil checks
	// in the packet handling and logging paths.
	var stats PacketStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	factory := config.SocketFactory
	if factory == nil {
		factory = NewRealUDPSocketFactory()
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		socketFactory: factory,
		stats:         stats,
		forwarder:     config.Forwarder,
		handler:       config.Handler,
	}
}

// noopStats is a PacketStatsInterface implementation that does nothing.
type noopStats struct{}

func (n *noopStats) AddPacket(bytes int)  {}
func (n *noopStats) AddDropped()          {}
func (n *noopStats) AddSamples(count int) {}
func (n *noopStats) LogStats()            {}

// Start begins listening for UDP datagrams and processing them. It blocks
// until ctx is cancelled or the socket fails to open.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	socket, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.socket = socket
	defer socket.Close()

	if l.rcvBuf > 0 {
		if err := socket.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	monitoring.Logf("UDP listener started on %s", l.address)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	// Batched sample lines from a bridge stay well under this.
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping")
			return ctx.Err()
		default:
			// Short read deadline so context cancellation is noticed.
			if err := socket.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				monitoring.Logf("Warning: failed to set read deadline: %v", err)
			}

			n, addr, err := socket.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("UDP read error: %v", err)
				continue
			}

			if err := l.handleDatagram(buffer[:n]); err != nil {
				monitoring.Logf("Error handling datagram from %v: %v", addr, err)
			}
		}
	}
}

// startStatsLogging periodically logs packet statistics. An initial report
// fires shortly after startup so the first run is not silent for a minute.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handleDatagram processes one received datagram. A datagram carries one or
// more newline-separated payload lines; a bad line does not stop the rest of
// the batch.
func (l *UDPListener) handleDatagram(packet []byte) error {
	l.stats.AddPacket(len(packet))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}

	if l.handler == nil {
		return nil
	}

	var firstErr error
	handled := 0
	for _, line := range strings.Split(string(packet), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := l.handler(line); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		handled++
	}
	if handled > 0 {
		l.stats.AddSamples(handled)
	}
	return firstErr
}

// Close closes the UDP listener and releases resources.
func (l *UDPListener) Close() error {
	if l.socket != nil {
		return l.socket.Close()
	}
	return nil
}
