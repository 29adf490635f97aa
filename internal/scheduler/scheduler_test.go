package scheduler

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newHooks(counts *struct{ game, compress, io int }) Hooks {
	return Hooks{
		GameTick:      func(uint64) { counts.game++ },
		CompressTicks: func(uint64) { counts.compress++ },
		IOPass:        func(uint64) { counts.io++ },
	}
}

func TestStepRunsExactlyOneTickPerPeriod(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	counts := &struct{ game, compress, io int }{}
	s := New(clock, newHooks(counts), nil)

	s.Step() // establishes baseline, no tick yet
	if counts.game != 0 {
		t.Fatalf("expected no tick on first step, got %d", counts.game)
	}

	clock.advance(TickPeriod)
	s.Step()
	if counts.game != 1 || counts.compress != 1 {
		t.Fatalf("expected exactly one tick+compress, got game=%d compress=%d", counts.game, counts.compress)
	}
	if counts.io != 2 {
		t.Fatalf("expected io pass every step, got %d", counts.io)
	}
}

func TestStepClockJumpBackwardsSkipsTick(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	counts := &struct{ game, compress, io int }{}
	s := New(clock, newHooks(counts), nil)
	s.Step()

	clock.now = time.Unix(500, 0) // jump backwards
	s.Step()
	if counts.game != 0 {
		t.Fatalf("expected no tick after backwards clock jump, got %d", counts.game)
	}
}

func TestStepLargeForwardJumpResetsAndTicksOnce(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var loggedTooSlow int
	counts := &struct{ game, compress, io int }{}
	s := New(clock, newHooks(counts), loggerFunc(func(string, ...any) { loggedTooSlow++ }))
	s.Step()

	clock.advance(11 * time.Second)
	s.Step()
	if counts.game != 1 {
		t.Fatalf("expected exactly one tick after an 11s stall, got %d", counts.game)
	}
	if loggedTooSlow != 1 {
		t.Fatalf("expected exactly one 'too slow' log, got %d", loggedTooSlow)
	}

	// Resume at normal pace: should not burst extra catch-up ticks.
	clock.advance(TickPeriod)
	s.Step()
	if counts.game != 2 {
		t.Fatalf("expected exactly 2 total ticks after resuming at normal pace, got %d", counts.game)
	}
}

func TestStepGradualSlipAdvancesExactlyOnePeriod(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	counts := &struct{ game, compress, io int }{}
	s := New(clock, newHooks(counts), nil)
	s.Step()

	// Slip by 3 periods, well under the 10s reset threshold.
	clock.advance(3 * TickPeriod)
	s.Step()
	if counts.game != 1 {
		t.Fatalf("expected exactly one tick despite a 3-period slip, got %d", counts.game)
	}
	if s.lastTickTime != clock.now.Add(-2*TickPeriod) {
		t.Fatalf("expected last_tick_time to advance by exactly one period")
	}
}

type loggerFunc func(string, ...any)

func (f loggerFunc) Printf(format string, args ...any) { f(format, args...) }
