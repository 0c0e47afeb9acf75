//go:build pcap
// +build pcap

package netrecv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// ReadPCAPFile replays captured UDP sample traffic through handler. Only
// packets on udpPort are considered (BPF filter). When realtime is true the
// replay is paced by the capture timestamps; long capture gaps are capped at
// one second so an overnight recording does not stall the replay.
// Available when building with the 'pcap' build tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, realtime bool, handler PayloadHandler, stats PacketStatsInterface, forwarder *PacketForwarder) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	startTime := time.Now()
	var lastCaptureTime time.Time

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP reader stopping (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				elapsed := time.Since(startTime)
				monitoring.Logf("PCAP file reading complete: %d packets processed in %v", packetCount, elapsed)
				return nil
			}

			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}
			payload := udp.Payload
			if len(payload) == 0 {
				continue
			}

			if realtime {
				captureTime := packet.Metadata().Timestamp
				if !lastCaptureTime.IsZero() {
					gap := captureTime.Sub(lastCaptureTime)
					if gap > time.Second {
						gap = time.Second
					}
					if gap > 0 {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(gap):
						}
					}
				}
				lastCaptureTime = captureTime
			}

			if stats != nil {
				stats.AddPacket(len(payload))
			}

			if forwarder != nil {
				forwarder.ForwardAsync(payload)
			}

			if handler != nil {
				handled := 0
				for _, line := range strings.Split(string(payload), "\n") {
					line = strings.TrimSpace(line)
					if line == "" {
						continue
					}
					if err := handler(line); err != nil {
						monitoring.Logf("Error handling PCAP payload (packet %d): %v", packetCount, err)
						continue
					}
					handled++
				}
				if stats != nil && handled > 0 {
					stats.AddSamples(handled)
				}
			}

			if packetCount%10000 == 0 {
				elapsed := time.Since(startTime)
				monitoring.Logf("PCAP progress: %d packets processed in %v (%.0f pkt/s)",
					packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
			}
		}
	}
}
