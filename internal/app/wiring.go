package app

import (
	"context"
	"sync/atomic"

	"ironkeep/server/internal/login"
	"ironkeep/server/internal/netio"
	"ironkeep/server/internal/worldtick"
)

// sendersFor builds the bound csend/xsend closures the World Tick
// Orchestrator hands to every collaborator (spec §4.6). tick tracks the
// in-progress game tick so csend/xsend calls made from inside a
// collaborator callback record the correct Disconnecting-on-overflow tick
// number without threading a tick argument through every collaborator
// signature.
func sendersFor(manager *netio.Manager) (worldtick.Sender, *atomic.Uint64) {
	var tick atomic.Uint64
	return worldtick.Sender{
		CSend: func(conn *netio.Connection, body []byte) error {
			return conn.CSend(body, tick.Load())
		},
		XSend: func(conn *netio.Connection, body []byte) error {
			return conn.XSend(body, tick.Load())
		},
	}, &tick
}

// dispatchingPlrCmdHandler routes a parsed command to the login state
// machine while the connection is still bootstrapping, falling back to
// the movement-only default once login.Dispatch reports the command
// wasn't a handshake command (spec §4.6 step 4 / §4.7). currentTick is the
// same counter sendersFor's closures read, so MarkDisconnecting calls made
// from inside the login machine record the tick actually in progress.
func dispatchingPlrCmdHandler(m *login.Machine, ctx context.Context, currentTick *atomic.Uint64) worldtick.PlrCmdHandler {
	return func(conn *netio.Connection, cmd netio.Command, globals *worldtick.Globals, send worldtick.Sender) {
		if conn.State() != netio.StateNormal {
			if m.Dispatch(ctx, conn, cmd, currentTick.Load()) {
				return
			}
		}
		worldtick.DefaultPlrCmdHandler(conn, cmd, globals, send)
	}
}
