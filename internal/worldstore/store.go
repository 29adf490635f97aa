// Package worldstore implements the persistent world storage collaborator
// spec §1 scopes out except as a load-at-start/periodic-save seam: the
// actual data format is not part of the core's contract.
package worldstore

import "context"

// Snapshot is the payload persisted between runs: the character-id to slot
// mapping and the world ticker. Each Store implementation chooses its own
// on-disk encoding of it.
type Snapshot struct {
	CharacterSlots map[string]uint32
	Ticker         uint32
}

// Store is the load/save seam the Process Supervisor calls into.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}
