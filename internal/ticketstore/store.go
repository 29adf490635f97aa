// Package ticketstore implements the auth collaborator interface spec §6
// names but leaves unimplemented: atomic consumption of one-time login
// tickets minted by the external account/authentication HTTP service.
package ticketstore

import (
	"context"
	"time"
)

// TicketKeyPrefix matches the key format spec §6 specifies for the shared
// key-value store: "game_login_ticket:{ticket}".
const TicketKeyPrefix = "game_login_ticket:"

func ticketKey(ticket string) string { return TicketKeyPrefix + ticket }

// Store is the auth collaborator contract spec §3/§6 describes: tickets
// are short opaque strings with a short TTL, consumed atomically
// (read-and-delete).
type Store interface {
	// ConsumeTicket performs an atomic GET+DEL of the ticket's key. ok is
	// false if the ticket does not exist or has expired.
	ConsumeTicket(ctx context.Context, ticket string) (characterID string, ok bool, err error)
	// IssueTicket performs an atomic SET NX EX. In this repository only the
	// tests call it; tickets are otherwise issued by the external auth
	// service.
	IssueTicket(ctx context.Context, ticket string, characterID string, ttl time.Duration) error
}
