package netio

import (
	"testing"
	"time"

	"ironkeep/server/internal/wire"
)

func TestParseCommandsFixedSize(t *testing.T) {
	conn, client := dialedPair(t)
	header := make([]byte, wire.CommandHeaderSize)
	header[0] = wire.CLCmdCTick
	if _, err := client.Write(header); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitReadable(t, conn)
	cmds, err := conn.ParseCommands()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Opcode != wire.CLCmdCTick {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestParseCommandsLeavesPartialCommandBuffered(t *testing.T) {
	conn, client := dialedPair(t)
	partial := make([]byte, wire.CommandHeaderSize-1)
	if _, err := client.Write(partial); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitReadable(t, conn)
	cmds, err := conn.ParseCommands()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no complete commands, got %d", len(cmds))
	}
	if conn.inLen != len(partial) {
		t.Fatalf("expected partial bytes retained, inLen=%d", conn.inLen)
	}
}

func TestParseCommandsUnknownOpcodeIsProtocolError(t *testing.T) {
	conn, client := dialedPair(t)
	header := make([]byte, wire.CommandHeaderSize)
	header[0] = 0xFE
	if _, err := client.Write(header); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitReadable(t, conn)
	if _, err := conn.ParseCommands(); err != ErrProtocolError {
		t.Fatalf("expected ErrProtocolError, got %v", err)
	}
}

func TestParseCommandsVariableBodyTrailing(t *testing.T) {
	conn, client := dialedPair(t)
	header := make([]byte, wire.CommandHeaderSize)
	header[0] = wire.CLAPILogin
	body := make([]byte, 32)
	copy(body, "T1")
	if _, err := client.Write(append(header, body...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitReadable(t, conn)
	cmds, err := conn.ParseCommands()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 1 || len(cmds[0].Body) != 32 {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

// waitReadable drives enough Recv calls for the client's write to land in
// in_buf; loopback writes are effectively synchronous but Recv is
// non-blocking, so a couple of short-deadline reads suffice.
func waitReadable(t *testing.T, conn *Connection) {
	t.Helper()
	for i := 0; i < 50; i++ {
		n, err := conn.Recv(4096)
		if n > 0 {
			return
		}
		if err != nil && err != ErrWouldBlock {
			t.Fatalf("recv error: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for readable data")
}
