// Package worldtick implements the World Tick Orchestrator of spec §4.6:
// the single per-tick entry point that fans out to the game-mechanics
// collaborators spec §1 treats as external, in a fixed documented order.
package worldtick

import (
	"ironkeep/server/internal/netio"
	"ironkeep/server/internal/wire"
)

// TicksPerSecond mirrors scheduler.TicksPerSecond; duplicated here rather
// than imported so this package has no compile-time dependency on the
// scheduler, matching the narrow-collaborator-interface style spec §9
// calls for ("collaborators receive a bound reference and the
// csend/xsend closures. No ambient globals").
const TicksPerSecond = 20

// Sender is the bound csend/xsend pair the orchestrator hands to every
// collaborator (spec §4.6: "provides them csend/xsend closures bound to a
// player id").
type Sender struct {
	CSend func(conn *netio.Connection, body []byte) error
	XSend func(conn *netio.Connection, body []byte) error
}

// Globals holds the world-wide counters spec §4.6 says the orchestrator
// itself owns and advances ("increments globals.ticker by 1 per tick").
type Globals struct {
	Ticker uint32
}

// PlrCmdHandler processes one parsed client command for a Normal
// connection. The real combat/inventory resolution is an out-of-scope
// collaborator contract (spec §1); DefaultPlrCmdHandler below satisfies it
// by recording CL_CMD_CTICK keepalives and ignoring movement/chat commands.
type PlrCmdHandler func(conn *netio.Connection, cmd netio.Command, globals *Globals, send Sender)

// Orchestrator runs the fixed per-tick order of spec §4.6.
type Orchestrator struct {
	Globals Globals

	Populate PopulateFunc
	Effects  EffectFunc
	Items    ItemFunc
	Global   GlobalFunc
	PlrCmd   PlrCmdHandler

	// LagStoneThreshold and LagStone implement spec §4.3's advisory
	// "stoning" notification: a Normal connection whose (ltick-rtick) lag
	// exceeds LagStoneThreshold is reported to LagStone every tick the
	// condition holds. A zero threshold or nil LagStone disables the
	// check, matching every other collaborator's nil-is-no-op contract.
	LagStoneThreshold uint32
	LagStone          LagStoneFunc

	send Sender
}

// LagStoneFunc notifies the gameplay collaborator that a connection has
// crossed LagStoneThreshold (spec §4.3). This is advisory only — it is
// never a disconnect reason.
type LagStoneFunc func(conn *netio.Connection, lagTicks uint32)

// PopulateFunc spawns/despawns NPCs for the tick (spec §4.6 step 1).
type PopulateFunc func(tick uint64, send Sender)

// EffectFunc advances timed world effects (spec §4.6 step 2).
type EffectFunc func(tick uint64, send Sender)

// ItemFunc advances ground-item decay/behavior (spec §4.6 step 3).
type ItemFunc func(tick uint64, send Sender)

// GlobalFunc advances the daylight/weather world clock (spec §4.6 step 5).
type GlobalFunc func(tick uint64, globals *Globals)

// New constructs an Orchestrator with the given collaborators. A nil
// plrCmd is replaced by DefaultPlrCmdHandler; any other nil collaborator
// is treated as a no-op, matching spec §8's requirement that
// "running game_tick with zero active connections is a no-op except for
// globals.ticker += 1" generalized to "no collaborator wired".
func New(send Sender, populate PopulateFunc, effects EffectFunc, items ItemFunc, global GlobalFunc, plrCmd PlrCmdHandler) *Orchestrator {
	if plrCmd == nil {
		plrCmd = DefaultPlrCmdHandler
	}
	return &Orchestrator{send: send, Populate: populate, Effects: effects, Items: items, Global: global, PlrCmd: plrCmd}
}

// GameTick runs the fixed order of spec §4.6 against the given connection
// table for one tick.
func (o *Orchestrator) GameTick(tick uint64, conns []*netio.Connection) {
	if o.Populate != nil {
		o.Populate(tick, o.send)
	}
	if o.Effects != nil {
		o.Effects(tick, o.send)
	}
	if o.Items != nil {
		o.Items(tick, o.send)
	}
	for _, conn := range conns {
		if conn.State() == netio.StateNormal {
			conn.IncrementLTick()
		}
		// Commands are dispatched for every connection, not only Normal
		// ones: login-handshake commands (CL_API_LOGIN, CL_CHALLENGE) are
		// received while the connection is still Connect/Challenge, and
		// PlrCmd routes those to the login state machine before falling
		// back to gameplay handling (spec §4.6 step 4, §4.7).
		for _, cmd := range conn.DrainPendingCommands() {
			o.PlrCmd(conn, cmd, &o.Globals, o.send)
		}
		if conn.State() == netio.StateNormal && o.LagStoneThreshold > 0 && o.LagStone != nil {
			if lag := conn.LagTicks(); lag > o.LagStoneThreshold {
				o.LagStone(conn, lag)
			}
		}
	}
	if o.Global != nil {
		o.Global(tick, &o.Globals)
	}
	o.Globals.Ticker++

	for _, conn := range conns {
		o.emitLoginTick(conn)
	}
}

// emitLoginTick sends SV_TICK via xsend only during the login-handshake
// windows, per spec §4.6 step 6 / §4.7: NewLogin and Login transitions
// queue it once on their way to Normal, not every tick thereafter.
func (o *Orchestrator) emitLoginTick(conn *netio.Connection) {
	switch conn.State() {
	case netio.StateNewLogin, netio.StateLogin:
		phase := byte(o.Globals.Ticker % TicksPerSecond)
		body := []byte{phase}
		buf, err := wire.AppendMessage(nil, wire.SVTick, body)
		if err != nil {
			return
		}
		_ = o.send.XSend(conn, buf)
		conn.SetState(netio.StateNormal)
	}
}

// DefaultPlrCmdHandler is the movement-only stand-in for the real
// game-mechanics plr_cmd collaborator spec §1 scopes out. It only
// maintains the keepalive counters the core itself owns.
func DefaultPlrCmdHandler(conn *netio.Connection, cmd netio.Command, globals *Globals, send Sender) {
	switch cmd.Opcode {
	case wire.CLCmdCTick:
		rtick := decodeU32LE(cmd.Header[:4])
		conn.ObserveRTick(rtick, timeNow())
	case wire.CLCmdMove, wire.CLCmdChat:
		// Movement/chat resolution belongs to the external collaborator;
		// the core only guarantees the command was parsed and delivered.
	}
}
