package netio

import (
	"fmt"
	"net"
	"time"

	"ironkeep/server/internal/ring"
	"ironkeep/server/internal/telemetry"
	"ironkeep/server/internal/wire"
)

// State is a connection's position in the login state machine (spec §4.7).
type State int

const (
	StateConnect State = iota
	StateChallenge
	StateNewLogin
	StateLogin
	StateNormal
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnect:
		return "Connect"
	case StateChallenge:
		return "Challenge"
	case StateNewLogin:
		return "NewLogin"
	case StateLogin:
		return "Login"
	case StateNormal:
		return "Normal"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// DisconnectReason classifies why a connection moved to StateDisconnecting,
// matching the error kinds of spec §7.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonClientTooSlow
	ReasonTickBufferOverflow
	ReasonProtocolError
	ReasonAuthFailed
	ReasonIdle
	ReasonSocketError
	ReasonShutdownRequested
	ReasonClientClosed
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonClientTooSlow:
		return "ClientTooSlow"
	case ReasonTickBufferOverflow:
		return "TickBufferOverflow"
	case ReasonProtocolError:
		return "ProtocolError"
	case ReasonAuthFailed:
		return "AuthFailed"
	case ReasonIdle:
		return "Idle"
	case ReasonSocketError:
		return "SocketError"
	case ReasonShutdownRequested:
		return "ShutdownRequested"
	case ReasonClientClosed:
		return "ClientClosed"
	default:
		return "Unknown"
	}
}

// Command is one parsed client-to-server message: a fixed 16-byte header
// plus any opcode-declared trailing payload (spec §6).
type Command struct {
	Opcode byte
	Header [wire.CommandHeaderSize - 1]byte
	Body   []byte
}

// closeGraceTicks bounds how long a Disconnecting connection is kept around
// draining out_ring before the Network Manager force-closes it (spec
// §4.4 step 4: "force-close after a 2-tick grace").
const closeGraceTicks = 2

// overflowLogger receives an internal-error log line when a connection's
// tick buffer overflows (spec §4.3: "log it as an internal error").
type overflowLogger interface {
	Printf(format string, args ...any)
}

// Connection holds all per-client state (spec §3). Only the scheduler
// goroutine ever touches a Connection.
type Connection struct {
	ID   uint32
	conn net.Conn

	state  State
	reason DisconnectReason

	inBuf   []byte
	inLen   int
	outRing *ring.Buffer
	tickBuf []byte
	tickCap int

	characterSlot *uint32

	rtick uint32
	ltick uint32

	lastHeardAt time.Time

	disconnectedAtTick uint64
	markedTick         uint64

	// PendingCharacterID holds the character id resolved from the login
	// ticket while the connection is in StateChallenge, awaiting the slot
	// allocation/rebind decision in StateChallenge's handler.
	PendingCharacterID string

	// PendingChallengeNonce holds the nonce sent with SV_CHALLENGE, checked
	// against the client's CL_CHALLENGE response.
	PendingChallengeNonce [8]byte

	// PendingCommands holds commands parsed during this iteration's recv
	// pass; per spec §4.5 they become visible to PlrTick only starting the
	// next tick, since the game tick runs before handle_network_io.
	PendingCommands []Command

	logger  overflowLogger
	metrics telemetry.Metrics
}

// DrainPendingCommands returns and clears the commands parsed since the
// last call, for the World Tick Orchestrator's PlrTick step.
func (c *Connection) DrainPendingCommands() []Command {
	if len(c.PendingCommands) == 0 {
		return nil
	}
	out := c.PendingCommands
	c.PendingCommands = nil
	return out
}

// Config bounds a Connection's buffers, matching spec §3's named
// capacities.
type Config struct {
	RecvBurst int
	InBufCap  int
	OBufCap   int
	TBufCap   int
}

// DefaultConfig returns the capacities spec §3 gives as examples.
func DefaultConfig() Config {
	return Config{
		RecvBurst: 4096,
		InBufCap:  8192,
		OBufCap:   256 * 1024,
		TBufCap:   64 * 1024,
	}
}

// NewConnection wraps an accepted socket in fresh per-client state. metrics
// may be nil; it backs the per-opcode byte counters CSend/XSend record.
func NewConnection(id uint32, conn net.Conn, cfg Config, logger overflowLogger, metrics telemetry.Metrics) *Connection {
	return &Connection{
		ID:          id,
		conn:        conn,
		state:       StateConnect,
		inBuf:       make([]byte, cfg.InBufCap),
		outRing:     ring.New(cfg.OBufCap),
		tickBuf:     make([]byte, 0, cfg.TBufCap),
		tickCap:     cfg.TBufCap,
		lastHeardAt: time.Now(),
		logger:      logger,
		metrics:     metrics,
	}
}

func (c *Connection) State() State            { return c.state }
func (c *Connection) Reason() DisconnectReason { return c.reason }
func (c *Connection) CharacterSlot() (uint32, bool) {
	if c.characterSlot == nil {
		return 0, false
	}
	return *c.characterSlot, true
}
func (c *Connection) BindCharacterSlot(slot uint32) { c.characterSlot = &slot }
func (c *Connection) RTick() uint32                 { return c.rtick }
func (c *Connection) LTick() uint32                 { return c.ltick }

// SetState transitions the connection. Transitioning to StateDisconnecting
// is also done via MarkDisconnecting, which additionally records the reason.
func (c *Connection) SetState(s State) { c.state = s }

// MarkDisconnecting moves the connection to its terminal state. Per spec
// §3, a connection already Disconnecting accepts no further enqueues, so
// the first reason recorded wins.
func (c *Connection) MarkDisconnecting(reason DisconnectReason, tick uint64) {
	if c.state == StateDisconnecting {
		return
	}
	c.state = StateDisconnecting
	c.reason = reason
	c.markedTick = tick
}

// GraceExpired reports whether the 2-tick force-close grace (spec §4.4
// step 4) has elapsed since the connection was marked Disconnecting.
func (c *Connection) GraceExpired(currentTick uint64) bool {
	return c.state == StateDisconnecting && currentTick >= c.markedTick+closeGraceTicks
}

// OutRingEmpty reports whether all pending outbound bytes have drained.
func (c *Connection) OutRingEmpty() bool { return c.outRing.Len() == 0 }

// CSend appends bytes directly to out_ring for immediate delivery on the
// next I/O pass (spec §4.3). It never partial-writes: on overflow the
// connection is marked Disconnecting(ClientTooSlow) and none of p is kept.
func (c *Connection) CSend(p []byte, tick uint64) error {
	if c.state == StateDisconnecting {
		return nil
	}
	if err := c.outRing.Write(p); err != nil {
		c.MarkDisconnecting(ReasonClientTooSlow, tick)
		return err
	}
	c.countOpcodeBytes(p)
	return nil
}

// countOpcodeBytes records a per-opcode byte counter for p, whose first
// byte is always the message's opcode (every csend/xsend caller builds p
// via wire.AppendMessage). A supplement over the original's per-opcode
// PacketStats fields, kept as one more telemetry.Metrics counter rather
// than dedicated struct fields.
func (c *Connection) countOpcodeBytes(p []byte) {
	if c.metrics == nil || len(p) == 0 {
		return
	}
	c.metrics.Add(fmt.Sprintf("netio_opcode_bytes:%d", p[0]), uint64(len(p)))
}

// XSend appends bytes to tick_buf, drained once per tick by CompressTicks
// (spec §4.3). Overflow is an internal error: the subsystem promised this
// would not happen, so it is logged in addition to disconnecting the
// client.
func (c *Connection) XSend(p []byte, tick uint64) error {
	if c.state == StateDisconnecting {
		return nil
	}
	if len(c.tickBuf)+len(p) > c.tickCap {
		c.MarkDisconnecting(ReasonTickBufferOverflow, tick)
		if c.logger != nil {
			c.logger.Printf("tick buffer overflow conn=%d tick=%d attempted=%d cap=%d", c.ID, tick, len(p), c.tickCap)
		}
		return ring.ErrOverflow
	}
	c.tickBuf = append(c.tickBuf, p...)
	c.countOpcodeBytes(p)
	return nil
}

// TickBuf returns the bytes queued via XSend since the last ResetTickBuf.
func (c *Connection) TickBuf() []byte { return c.tickBuf }

// ResetTickBuf clears tick_buf, which CompressTicks guarantees happens
// after every flush attempt regardless of outcome (spec §3 invariant).
func (c *Connection) ResetTickBuf() { c.tickBuf = c.tickBuf[:0] }

// IncrementLTick advances the server-side lag counter by one, wrapping at
// 2^32, for Normal connections (spec §4.3).
func (c *Connection) IncrementLTick() { c.ltick++ }

// ObserveRTick stores the client-reported tick counter from
// CL_CMD_CTICK and refreshes the idle timer (spec §4.3).
func (c *Connection) ObserveRTick(rtick uint32, now time.Time) {
	c.rtick = rtick
	c.lastHeardAt = now
}

// LagTicks reports (ltick - rtick) mod 2^32, the value compared against
// LAG_STONE_THRESHOLD for advisory "stoning" notifications.
func (c *Connection) LagTicks() uint32 { return c.ltick - c.rtick }

// IdleFor reports how long it has been since the connection was last heard
// from.
func (c *Connection) IdleFor(now time.Time) time.Duration { return now.Sub(c.lastHeardAt) }

// Socket exposes the underlying net.Conn for the Network Manager's I/O
// pass. No other package should reach into a Connection's socket.
func (c *Connection) Socket() net.Conn { return c.conn }

// OutRing exposes the output ring for the Network Manager's drain step.
func (c *Connection) OutRing() *ring.Buffer { return c.outRing }
