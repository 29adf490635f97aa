package worldtick

// GroundItem is an item dropped in the world, tracked only for decay
// bookkeeping; the real pickup/stacking behavior belongs to the external
// collaborator spec §1 scopes out.
type GroundItem struct {
	ID           uint32
	DroppedTick  uint64
	DecayAtTick  uint64
}

// ItemSet tracks ground items pending decay.
type ItemSet struct {
	items  []GroundItem
	nextID uint32
}

// NewItemSet constructs an empty item set.
func NewItemSet() *ItemSet { return &ItemSet{} }

// Drop registers a ground item that decays after decayTicks, returning its
// id.
func (s *ItemSet) Drop(tick uint64, decayTicks uint64) uint32 {
	s.nextID++
	s.items = append(s.items, GroundItem{ID: s.nextID, DroppedTick: tick, DecayAtTick: tick + decayTicks})
	return s.nextID
}

// Items returns the currently tracked ground items.
func (s *ItemSet) Items() []GroundItem { return s.items }

// Tick implements ItemFunc: remove items past their decay deadline.
func (s *ItemSet) Tick(tick uint64, _ Sender) {
	kept := s.items[:0]
	for _, it := range s.items {
		if tick >= it.DecayAtTick {
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
}
