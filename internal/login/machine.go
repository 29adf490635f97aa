// Package login implements the Login State Machine of spec §4.7: the
// new-connection bootstrap from an accepted socket up to a connection
// bound to a character slot.
package login

import (
	"context"
	"crypto/rand"

	"golang.org/x/crypto/sha3"

	"ironkeep/server/internal/netio"
	"ironkeep/server/internal/wire"
)

// challengeDigestLen is how many leading bytes of the sha3-256 digest are
// compared against the client's response, sized to fit the fixed 16-byte
// command header alongside the opcode byte.
const challengeDigestLen = 8

// TicketStore is the auth collaborator interface (spec §6): an atomic
// GET+DEL against the shared key-value store.
type TicketStore interface {
	ConsumeTicket(ctx context.Context, ticket string) (characterID string, ok bool, err error)
}

// CharacterBinder is the world's character-table collaborator. Login has
// no compile-time dependency on the world package beyond this narrow
// interface, matching the teacher's telemetry.Logger/Metrics pattern of
// depending on a small contract rather than a concrete struct.
type CharacterBinder interface {
	// SlotFor reports the existing character slot for characterID, if one
	// has already been allocated.
	SlotFor(characterID string) (slot uint32, exists bool)
	// Allocate creates a new character slot from template and returns it.
	Allocate(ctx context.Context, characterID string) (slot uint32, err error)
}

// Machine drives one connection's login handshake.
type Machine struct {
	Tickets TicketStore
	Chars   CharacterBinder
}

// New constructs a login state Machine bound to the given collaborators.
func New(tickets TicketStore, chars CharacterBinder) *Machine {
	return &Machine{Tickets: tickets, Chars: chars}
}

// HandleLogin processes a CL_API_LOGIN command received while the
// connection is in StateConnect (spec §4.7). The ticket is expected as the
// command body, NUL-padded to its fixed trailing width.
func (m *Machine) HandleLogin(ctx context.Context, conn *netio.Connection, cmd netio.Command, tick uint64) {
	if conn.State() != netio.StateConnect || cmd.Opcode != wire.CLAPILogin {
		conn.MarkDisconnecting(netio.ReasonProtocolError, tick)
		return
	}
	ticket := trimTrailingZeros(cmd.Body)
	characterID, ok, err := m.Tickets.ConsumeTicket(ctx, ticket)
	if err != nil || !ok {
		conn.MarkDisconnecting(netio.ReasonAuthFailed, tick)
		return
	}
	conn.PendingCharacterID = characterID
	if _, randErr := rand.Read(conn.PendingChallengeNonce[:]); randErr != nil {
		conn.MarkDisconnecting(netio.ReasonProtocolError, tick)
		return
	}
	conn.SetState(netio.StateChallenge)
	frame, ferr := wire.AppendMessage(nil, wire.SVChallenge, challengeBody(conn.PendingChallengeNonce))
	if ferr != nil {
		conn.MarkDisconnecting(netio.ReasonProtocolError, tick)
		return
	}
	_ = conn.CSend(frame, tick)
}

// HandleChallenge processes a CL_CHALLENGE response while the connection
// is in StateChallenge (spec §4.7).
func (m *Machine) HandleChallenge(ctx context.Context, conn *netio.Connection, cmd netio.Command, tick uint64) {
	if conn.State() != netio.StateChallenge || cmd.Opcode != wire.CLChallenge {
		conn.MarkDisconnecting(netio.ReasonProtocolError, tick)
		return
	}
	if !verifyChallenge(conn.PendingChallengeNonce, cmd.Header[:]) {
		conn.MarkDisconnecting(netio.ReasonAuthFailed, tick)
		return
	}
	if slot, exists := m.Chars.SlotFor(conn.PendingCharacterID); exists {
		m.enterLogin(conn, slot, tick)
		return
	}
	slot, err := m.Chars.Allocate(ctx, conn.PendingCharacterID)
	if err != nil {
		conn.MarkDisconnecting(netio.ReasonAuthFailed, tick)
		return
	}
	m.enterNewLogin(conn, slot, tick)
}

// enterNewLogin implements the NewLogin transition: allocate/initialize a
// character slot, send SV_NEWPLAYER via csend, transition state. SV_TICK is
// queued by the World Tick Orchestrator's emitLoginTick, not here, since
// that requires the current globals.ticker value the orchestrator owns.
func (m *Machine) enterNewLogin(conn *netio.Connection, slot uint32, tick uint64) {
	conn.BindCharacterSlot(slot)
	body := make([]byte, 15)
	encodeU32LE(body[:4], slot)
	conn.SetState(netio.StateNewLogin)
	frame, err := wire.AppendMessage(nil, wire.SVNewPlayer, body)
	if err != nil {
		conn.MarkDisconnecting(netio.ReasonProtocolError, tick)
		return
	}
	_ = conn.CSend(frame, tick)
}

// enterLogin implements the Login transition: rebind to an existing slot,
// send SV_LOGIN_OK via csend, transition state.
func (m *Machine) enterLogin(conn *netio.Connection, slot uint32, tick uint64) {
	conn.BindCharacterSlot(slot)
	conn.SetState(netio.StateLogin)
	frame, err := wire.AppendMessage(nil, wire.SVLoginOK, []byte{})
	if err != nil {
		conn.MarkDisconnecting(netio.ReasonProtocolError, tick)
		return
	}
	_ = conn.CSend(frame, tick)
}

func trimTrailingZeros(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

func encodeU32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

// challengeBody wraps the nonce as the SV_CHALLENGE payload. The legacy
// client is expected to echo back sha3-256(nonce)'s leading
// challengeDigestLen bytes in its CL_CHALLENGE response header; the core
// only needs a verifiable round trip, not the original cipher.
func challengeBody(nonce [8]byte) []byte {
	body := make([]byte, len(nonce))
	copy(body, nonce[:])
	return body
}

func verifyChallenge(nonce [8]byte, response []byte) bool {
	if len(response) < challengeDigestLen {
		return false
	}
	digest := sha3.Sum256(nonce[:])
	var got [challengeDigestLen]byte
	copy(got[:], response[:challengeDigestLen])
	var want [challengeDigestLen]byte
	copy(want[:], digest[:challengeDigestLen])
	return got == want
}
