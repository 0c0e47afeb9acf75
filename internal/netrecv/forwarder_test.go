package netrecv

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPacketForwarder_Loopback(t *testing.T) {
	// Receiver the forwarder will mirror to.
	receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to bind receiver: %v", err)
	}
	defer receiver.Close()
	port := receiver.LocalAddr().(*net.UDPAddr).Port

	stats := &mockStats{}
	forwarder, err := NewPacketForwarder("127.0.0.1", port, stats, time.Hour)
	if err != nil {
		t.Fatalf("NewPacketForwarder failed: %v", err)
	}
	defer forwarder.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forwarder.Start(ctx)

	forwarder.ForwardAsync([]byte("1000,0.1,9.8,0.2"))

	receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := receiver.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("forwarded packet never arrived: %v", err)
	}
	if string(buf[:n]) != "1000,0.1,9.8,0.2" {
		t.Errorf("unexpected forwarded payload: %q", buf[:n])
	}
}

func TestPacketForwarder_DropsWhenFull(t *testing.T) {
	stats := &mockStats{}
	forwarder, err := NewPacketForwarder("127.0.0.1", 19999, stats, time.Hour)
	if err != nil {
		t.Fatalf("NewPacketForwarder failed: %v", err)
	}
	defer forwarder.conn.Close()

	// Never started, so the channel only drains into its 1000-slot buffer.
	for i := 0; i < 1005; i++ {
		forwarder.ForwardAsync([]byte("x"))
	}

	if stats.droppedCnt != 5 {
		t.Errorf("expected 5 dropped packets, got %d", stats.droppedCnt)
	}
}

func TestPacketForwarder_CopiesPacket(t *testing.T) {
	forwarder, err := NewPacketForwarder("127.0.0.1", 19998, nil, time.Hour)
	if err != nil {
		t.Fatalf("NewPacketForwarder failed: %v", err)
	}
	defer forwarder.conn.Close()

	buf := []byte("original")
	forwarder.ForwardAsync(buf)
	copy(buf, "CLOBBERD")

	queued := <-forwarder.channel
	if string(queued) != "original" {
		t.Errorf("queued packet shares the caller's buffer: %q", queued)
	}
}

func TestPacketForwarder_InvalidAddress(t *testing.T) {
	if _, err := NewPacketForwarder("invalid-host-xyz-12345", 2370, nil, time.Second); err == nil {
		t.Error("expected error for invalid address, got nil")
	}
}
