package worldtick

// NPC is a minimal spawned actor, scoped to what PopulateTick needs to
// exercise the tick contract; the real combat/AI behavior is the external
// collaborator spec §1 scopes out.
type NPC struct {
	ID        uint32
	SpawnTick uint64
	Lifetime  uint64 // ticks; 0 means no expiry
}

// Population spawns NPCs up to a single world-wide cap and despawns ones
// whose lifetime has elapsed; spawned NPCs get Lifetime 0 (no expiry).
// Grounded on the teacher's
// active-slice-walked-once-per-tick NPC bookkeeping shape.
type Population struct {
	Cap    int
	active []NPC
	nextID uint32
}

// NewPopulation constructs an empty population with the given spawn cap.
func NewPopulation(cap int) *Population {
	if cap < 0 {
		cap = 0
	}
	return &Population{Cap: cap}
}

// Active returns the currently spawned NPCs.
func (p *Population) Active() []NPC { return p.active }

// Tick implements PopulateFunc: spawn up to Cap, despawn expired.
func (p *Population) Tick(tick uint64, _ Sender) {
	kept := p.active[:0]
	for _, n := range p.active {
		if n.Lifetime != 0 && tick-n.SpawnTick >= n.Lifetime {
			continue
		}
		kept = append(kept, n)
	}
	p.active = kept

	for len(p.active) < p.Cap {
		p.nextID++
		p.active = append(p.active, NPC{ID: p.nextID, SpawnTick: tick, Lifetime: 0})
	}
}
