// Package netio implements the non-blocking TCP accept/read/write pass and
// per-connection state described in spec §4.3/§4.4: the Connection and
// Network Manager components.
package netio

import (
	"errors"
	"net"
	"time"

	"ironkeep/server/internal/telemetry"
	"ironkeep/server/internal/wire"
)

// DefaultMaxConnections is the fixed connection table size spec §4.4 gives
// as an example ("fixed max e.g. 256").
const DefaultMaxConnections = 256

// DefaultAcceptBurst bounds how many pending connections are accepted in a
// single I/O pass (spec §4.4 step 1: "Accept up to K pending connections").
const DefaultAcceptBurst = 8

// DefaultIdleTimeout is the protocol-level keepalive timeout spec §4.3
// gives as an example ("default 60s at protocol level").
const DefaultIdleTimeout = 60 * time.Second

// ManagerConfig bounds the Network Manager's resource usage.
type ManagerConfig struct {
	Addr           string
	MaxConnections int
	AcceptBurst    int
	ConnConfig     Config
	IdleTimeout    time.Duration
}

// DefaultManagerConfig returns the capacities named in spec §4.3/§4.4.
func DefaultManagerConfig(addr string) ManagerConfig {
	return ManagerConfig{
		Addr:           addr,
		MaxConnections: DefaultMaxConnections,
		AcceptBurst:    DefaultAcceptBurst,
		ConnConfig:     DefaultConfig(),
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// Manager owns the listener, the connection table (a dense array with a
// free-list), and a reusable zlib compressor context (spec §4.4).
type Manager struct {
	listener *net.TCPListener
	cfg      ManagerConfig
	logger   telemetry.Logger
	metrics  telemetry.Metrics

	conns    []*Connection // index == slot; nil when free
	freeList []int
	nextID   uint32

	compressor *wire.Compressor
}

// NewManager binds the listening socket and constructs an empty connection
// table.
func NewManager(cfg ManagerConfig, logger telemetry.Logger, metrics telemetry.Metrics) (*Manager, error) {
	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = DefaultAcceptBurst
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	m := &Manager{
		listener:   ln,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		conns:      make([]*Connection, cfg.MaxConnections),
		compressor: wire.NewCompressor(),
	}
	for i := cfg.MaxConnections - 1; i >= 0; i-- {
		m.freeList = append(m.freeList, i)
	}
	return m, nil
}

// Addr reports the bound listen address, useful when cfg.Addr used port 0.
func (m *Manager) Addr() net.Addr { return m.listener.Addr() }

// Close releases the listening socket. Existing connections are untouched;
// callers drain them via HandleNetworkIO's Disconnecting path first.
func (m *Manager) Close() error { return m.listener.Close() }

// Connections returns the live (non-nil) connection slots, for callers
// that need to iterate the table (e.g. the World Tick Orchestrator).
func (m *Manager) Connections() []*Connection {
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// HandleNetworkIO runs the four-step non-blocking I/O pass of spec §4.4.
func (m *Manager) HandleNetworkIO(currentTick uint64) {
	m.acceptPass(currentTick)
	m.recvPass(currentTick)
	m.sendPass(currentTick)
	m.closePass(currentTick)
}

// acceptPass implements step 1: accept up to AcceptBurst pending
// connections, each landing in StateConnect with TCP_NODELAY enabled.
func (m *Manager) acceptPass(currentTick uint64) {
	for i := 0; i < m.cfg.AcceptBurst; i++ {
		if len(m.freeList) == 0 {
			return
		}
		if err := m.listener.SetDeadline(time.Now().Add(pollWindow)); err != nil {
			return
		}
		conn, err := m.listener.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			if m.logger != nil {
				m.logger.Printf("accept error: %v", err)
			}
			return
		}
		_ = conn.SetNoDelay(true)
		slot := m.freeList[len(m.freeList)-1]
		m.freeList = m.freeList[:len(m.freeList)-1]
		m.nextID++
		c := NewConnection(m.nextID, conn, m.cfg.ConnConfig, m.logger, m.metrics)
		m.conns[slot] = c
		if m.metrics != nil {
			m.metrics.Add("netio_connections_accepted_total", 1)
		}
	}
}

// recvPass implements step 2: for each connection, read until WouldBlock
// or the burst cap, then parse whatever complete commands are available.
// Parsed commands land in the connection's pending queue; per spec §4.5
// they are not visible to PlrTick until the following tick. It also
// enforces the keepalive idle timeout (spec §4.3): a connection that has
// not been heard from in IdleTimeout is marked Disconnecting(Idle) before
// its socket is even read this pass.
func (m *Manager) recvPass(currentTick uint64) {
	now := time.Now()
	for _, c := range m.conns {
		if c == nil || c.state == StateDisconnecting {
			continue
		}
		if c.IdleFor(now) > m.cfg.IdleTimeout {
			c.MarkDisconnecting(ReasonIdle, currentTick)
			continue
		}
		n, err := c.Recv(m.cfg.ConnConfig.RecvBurst)
		if err != nil && err != ErrWouldBlock {
			c.MarkDisconnecting(reasonForSocketErr(err), currentTick)
			continue
		}
		if n == 0 {
			continue
		}
		cmds, parseErr := c.ParseCommands()
		c.PendingCommands = append(c.PendingCommands, cmds...)
		if parseErr != nil {
			c.MarkDisconnecting(ReasonProtocolError, currentTick)
		}
	}
}

// reasonForSocketErr maps a read error to a disconnect reason. Every error,
// a clean client close (EOF) included, maps to ReasonSocketError;
// ReasonClientClosed is never returned here.
func reasonForSocketErr(err error) DisconnectReason {
	if errors.Is(err, net.ErrClosed) {
		return ReasonSocketError
	}
	return ReasonSocketError
}

// sendPass implements step 3: drain out_ring to the socket until
// WouldBlock, for every connection including ones already Disconnecting
// (their queued bytes are still delivered, per spec §5).
func (m *Manager) sendPass(currentTick uint64) {
	for _, c := range m.conns {
		if c == nil {
			continue
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(pollWindow)); err != nil {
			c.MarkDisconnecting(ReasonSocketError, currentTick)
			continue
		}
		_, err := c.outRing.DrainTo(c.conn)
		if err != nil && classifyNetError(err) != ErrWouldBlock {
			c.MarkDisconnecting(ReasonSocketError, currentTick)
		}
	}
}

// closePass implements step 4: close sockets of Disconnecting connections
// once out_ring is empty, or force-close after the 2-tick grace.
func (m *Manager) closePass(currentTick uint64) {
	for slot, c := range m.conns {
		if c == nil || c.state != StateDisconnecting {
			continue
		}
		if c.OutRingEmpty() || c.GraceExpired(currentTick) {
			_ = c.conn.Close()
			if m.metrics != nil {
				m.metrics.Add("netio_connections_closed_total", 1)
			}
			m.conns[slot] = nil
			m.freeList = append(m.freeList, slot)
		}
	}
}

// MarkAllDisconnecting marks every live connection Disconnecting(reason),
// used by the Process Supervisor's shutdown sequence (spec §7
// "ShutdownRequested").
func (m *Manager) MarkAllDisconnecting(reason DisconnectReason, currentTick uint64) {
	for _, c := range m.conns {
		if c != nil {
			c.MarkDisconnecting(reason, currentTick)
		}
	}
}

// AllClosed reports whether every connection slot is free, i.e. the
// shutdown drain has finished.
func (m *Manager) AllClosed() bool {
	for _, c := range m.conns {
		if c != nil {
			return false
		}
	}
	return true
}

// CompressTicks implements spec §4.4's tick compression pass: for each
// connection with a non-empty tick_buf, frame it (compressed or not, per
// the §4.2 policy) and append the frame to out_ring. tick_buf is always
// reset to empty afterward, whether or not anything was flushed.
func (m *Manager) CompressTicks(currentTick uint64) {
	for _, c := range m.conns {
		if c == nil {
			continue
		}
		if c.state == StateDisconnecting {
			// Bytes queued before the mark are discarded; the scheduled
			// disconnect wins over delivering a partial tick (spec §5).
			c.ResetTickBuf()
			continue
		}
		if len(c.tickBuf) == 0 {
			continue
		}
		frame, err := wire.EncodeFrame(nil, c.tickBuf, m.compressor)
		if err != nil {
			if m.logger != nil {
				m.logger.Printf("compress_ticks: conn=%d frame encode error: %v", c.ID, err)
			}
			c.MarkDisconnecting(ReasonClientTooSlow, currentTick)
			c.ResetTickBuf()
			continue
		}
		if writeErr := c.outRing.Write(frame); writeErr != nil {
			c.MarkDisconnecting(ReasonClientTooSlow, currentTick)
		}
		c.ResetTickBuf()
	}
}
