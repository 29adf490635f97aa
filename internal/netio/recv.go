package netio

import (
	"errors"
	"net"
	"time"

	"ironkeep/server/internal/wire"
)

// ErrWouldBlock reports that a non-blocking operation has no data/space
// available right now; callers treat it as "move on", never as a fault
// (spec §5: "a WouldBlock is not a suspension").
var ErrWouldBlock = errors.New("netio: would block")

// pollWindow is how far ahead of now the accept/read/write deadlines are
// set. A deadline already in the past fails the call with a timeout before
// the socket is touched, even when data or a pending connection is ready.
const pollWindow = time.Microsecond

// classifyNetError maps a net.Conn error to either ErrWouldBlock (the
// read/write deadline we set to get non-blocking semantics expired without
// data) or passes through a genuine socket error.
func classifyNetError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrWouldBlock
	}
	return err
}

// Recv reads up to RECV_BURST bytes from the socket into in_buf without
// blocking (spec §4.3/§4.4 step 2). It returns ErrWouldBlock when nothing
// was available, nil on a successful read of n>0 bytes, or a genuine
// socket error (including io.EOF on client close).
func (c *Connection) Recv(burst int) (n int, err error) {
	free := len(c.inBuf) - c.inLen
	if free <= 0 {
		return 0, nil
	}
	if burst > free {
		burst = free
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, err
	}
	n, readErr := c.conn.Read(c.inBuf[c.inLen : c.inLen+burst])
	c.inLen += n
	if readErr != nil {
		return n, classifyNetError(readErr)
	}
	return n, nil
}

// ParseCommands consumes as many complete commands as in_buf currently
// holds, returning them in arrival order. Any trailing partial command is
// left in in_buf for the next pass (spec §4.3: "leave them in in_buf and
// return"). A malformed command (unknown opcode, or a declared body that
// would overflow in_buf's capacity) returns ErrProtocolError.
func (c *Connection) ParseCommands() ([]Command, error) {
	var out []Command
	offset := 0
	for {
		remaining := c.inLen - offset
		if remaining < wire.CommandHeaderSize {
			break
		}
		opcode := c.inBuf[offset]
		bodySize, known := wire.CommandBodySize(opcode)
		if !known {
			c.compactFrom(offset)
			return out, ErrProtocolError
		}
		total := wire.CommandHeaderSize + bodySize
		if total > len(c.inBuf) {
			c.compactFrom(offset)
			return out, ErrProtocolError
		}
		if remaining < total {
			break
		}
		cmd := Command{Opcode: opcode}
		copy(cmd.Header[:], c.inBuf[offset+1:offset+wire.CommandHeaderSize])
		if bodySize > 0 {
			cmd.Body = append([]byte(nil), c.inBuf[offset+wire.CommandHeaderSize:offset+total]...)
		}
		out = append(out, cmd)
		offset += total
	}
	c.compactFrom(offset)
	return out, nil
}

// compactFrom shifts any unconsumed bytes starting at offset to the front
// of in_buf.
func (c *Connection) compactFrom(offset int) {
	if offset == 0 {
		return
	}
	remaining := c.inLen - offset
	copy(c.inBuf, c.inBuf[offset:c.inLen])
	c.inLen = remaining
}

// ErrProtocolError is returned by ParseCommands on a malformed command
// (spec §7).
var ErrProtocolError = errors.New("netio: protocol error")
