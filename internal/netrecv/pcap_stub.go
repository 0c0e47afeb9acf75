//go:build !pcap
// +build !pcap

package netrecv

import (
	"context"
	"fmt"
)

// ReadPCAPFile is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, realtime bool, handler PayloadHandler, stats PacketStatsInterface, forwarder *PacketForwarder) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}
