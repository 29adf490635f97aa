package app

import (
	"net"
	"testing"
	"time"

	"ironkeep/server/internal/netio"
	"ironkeep/server/internal/scheduler"
	"ironkeep/server/internal/telemetry"
)

// TestDrainShutdownIsIdempotent exercises spec §8's "double shutdown" case
// (two SIGTERMs): the second drainShutdown call, running against a
// connection table already fully closed by the first, must be a no-op
// rather than re-closing sockets or panicking.
func TestDrainShutdownIsIdempotent(t *testing.T) {
	managerCfg := netio.DefaultManagerConfig("127.0.0.1:0")
	manager, err := netio.NewManager(managerCfg, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer manager.Close()

	client, err := net.Dial("tcp", manager.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for len(manager.Connections()) == 0 && time.Now().Before(deadline) {
		manager.HandleNetworkIO(0)
		time.Sleep(time.Millisecond)
	}
	if len(manager.Connections()) != 1 {
		t.Fatalf("expected 1 accepted connection before shutdown, got %d", len(manager.Connections()))
	}

	sched := scheduler.New(nil, scheduler.Hooks{}, nil)
	logger := telemetry.WrapLogger(nil)

	drainShutdown(manager, sched, logger)
	if !manager.AllClosed() {
		t.Fatalf("expected all connections closed after first drainShutdown")
	}

	drainShutdown(manager, sched, logger)
	if !manager.AllClosed() {
		t.Fatalf("expected second drainShutdown to remain a no-op")
	}
}
