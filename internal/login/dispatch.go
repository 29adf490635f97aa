package login

import (
	"context"

	"ironkeep/server/internal/netio"
)

// Dispatch routes one parsed command to the appropriate handler based on
// the connection's current state, or disconnects on a command that makes
// no sense in that state. It returns true if the command was a
// login-handshake command (consumed here) and false if it should be
// forwarded to the gameplay plr_cmd collaborator instead.
func (m *Machine) Dispatch(ctx context.Context, conn *netio.Connection, cmd netio.Command, tick uint64) bool {
	switch conn.State() {
	case netio.StateConnect:
		m.HandleLogin(ctx, conn, cmd, tick)
		return true
	case netio.StateChallenge:
		m.HandleChallenge(ctx, conn, cmd, tick)
		return true
	default:
		return false
	}
}
