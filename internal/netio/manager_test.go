package netio

import (
	"net"
	"testing"
	"time"

	"ironkeep/server/internal/wire"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultManagerConfig("127.0.0.1:0")
	cfg.ConnConfig = Config{RecvBurst: 4096, InBufCap: 4096, OBufCap: 4096, TBufCap: 4096}
	m, err := NewManager(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAcceptPassAllocatesSlot(t *testing.T) {
	m := newTestManager(t)
	client, err := net.Dial("tcp", m.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for len(m.Connections()) == 0 && time.Now().Before(deadline) {
		m.acceptPass(0)
		time.Sleep(time.Millisecond)
	}
	conns := m.Connections()
	if len(conns) != 1 {
		t.Fatalf("expected 1 accepted connection, got %d", len(conns))
	}
	if conns[0].State() != StateConnect {
		t.Fatalf("expected new connection in StateConnect, got %v", conns[0].State())
	}
}

func TestCompressTicksFramesAndClearsTickBuf(t *testing.T) {
	m := newTestManager(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serverSideCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverSideCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-serverSideCh
	defer server.Close()

	conn := NewConnection(1, server, m.cfg.ConnConfig, nil, nil)
	m.conns[0] = conn
	m.freeList = m.freeList[:len(m.freeList)-1]

	if err := conn.XSend([]byte{wire.SVTick, 3}, 1); err != nil {
		t.Fatalf("xsend: %v", err)
	}
	m.CompressTicks(1)
	if len(conn.TickBuf()) != 0 {
		t.Fatalf("expected tick buf cleared after CompressTicks")
	}
	if conn.OutRing().Len() == 0 {
		t.Fatalf("expected a frame appended to out_ring")
	}
}

func TestCompressTicksDiscardsForDisconnectingConnections(t *testing.T) {
	m := newTestManager(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serverSideCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverSideCh <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-serverSideCh
	defer server.Close()

	conn := NewConnection(1, server, m.cfg.ConnConfig, nil, nil)
	m.conns[0] = conn
	m.freeList = m.freeList[:len(m.freeList)-1]
	conn.tickBuf = append(conn.tickBuf, wire.SVTick, 1)
	conn.MarkDisconnecting(ReasonIdle, 0)

	m.CompressTicks(0)
	if len(conn.TickBuf()) != 0 {
		t.Fatalf("expected tick buf cleared even when discarded")
	}
	if conn.OutRing().Len() != 0 {
		t.Fatalf("expected no frame appended for a disconnecting connection")
	}
}
