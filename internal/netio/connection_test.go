package netio

import (
	"net"
	"testing"
)

func dialedPair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	clientConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			clientConnCh <- c
		}
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	server := <-clientConnCh
	t.Cleanup(func() { server.Close() })

	cfg := Config{RecvBurst: 4096, InBufCap: 4096, OBufCap: 16, TBufCap: 16}
	conn := NewConnection(1, server, cfg, nil, nil)
	return conn, client
}

func TestCSendOverflowMarksClientTooSlow(t *testing.T) {
	conn, _ := dialedPair(t)
	payload := make([]byte, 15)
	if err := conn.CSend(payload, 0); err != nil {
		t.Fatalf("unexpected error on first csend: %v", err)
	}
	if err := conn.CSend([]byte{1, 2}, 0); err == nil {
		t.Fatalf("expected overflow error on second csend")
	}
	if conn.State() != StateDisconnecting || conn.Reason() != ReasonClientTooSlow {
		t.Fatalf("expected Disconnecting(ClientTooSlow), got state=%v reason=%v", conn.State(), conn.Reason())
	}
}

func TestXSendOverflowMarksTickBufferOverflow(t *testing.T) {
	conn, _ := dialedPair(t)
	if err := conn.XSend(make([]byte, 17), 0); err == nil {
		t.Fatalf("expected tick buffer overflow error")
	}
	if conn.State() != StateDisconnecting || conn.Reason() != ReasonTickBufferOverflow {
		t.Fatalf("expected Disconnecting(TickBufferOverflow), got state=%v reason=%v", conn.State(), conn.Reason())
	}
}

func TestXSendResetsClearsTickBuf(t *testing.T) {
	conn, _ := dialedPair(t)
	if err := conn.XSend([]byte{1, 2, 3}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.TickBuf()) != 3 {
		t.Fatalf("expected 3 bytes staged")
	}
	conn.ResetTickBuf()
	if len(conn.TickBuf()) != 0 {
		t.Fatalf("expected tick buf cleared after reset")
	}
}

func TestDisconnectingConnectionAcceptsNoFurtherEnqueues(t *testing.T) {
	conn, _ := dialedPair(t)
	conn.MarkDisconnecting(ReasonIdle, 0)
	if err := conn.CSend([]byte{1}, 0); err != nil {
		t.Fatalf("csend on disconnecting conn should be a silent no-op, got %v", err)
	}
	if conn.OutRing().Len() != 0 {
		t.Fatalf("expected no bytes enqueued once disconnecting")
	}
}

func TestLagTicksWraps(t *testing.T) {
	conn, _ := dialedPair(t)
	conn.ltick = 2
	conn.rtick = 4294967294 // -2 mod 2^32
	if got := conn.LagTicks(); got != 4 {
		t.Fatalf("expected wrapped lag of 4, got %d", got)
	}
}
