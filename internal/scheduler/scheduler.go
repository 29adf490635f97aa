// Package scheduler implements the fixed-rate tick scheduler of spec §4.5:
// wall-clock pacing, the catch-up/reset policy, and the per-iteration
// ordering between a game tick and the non-blocking I/O pass.
package scheduler

import (
	"context"
	"time"

	"ironkeep/server/internal/telemetry"
)

// TicksPerSecond is the fixed simulation rate (spec §3: "TICKS = 20").
const TicksPerSecond = 20

// TickPeriod is the nominal wall-clock period of one tick (spec §3:
// "TICK = 1_000_000 / TICKS µs").
const TickPeriod = time.Second / TicksPerSecond

// CatchupResetThreshold is how far behind the scheduler must fall before it
// gives up on gradual catch-up and resets its baseline instead (spec §4.5).
const CatchupResetThreshold = 10 * time.Second

// IOSlice caps a single sleep between iterations: the scheduler sleeps
// until the next tick boundary or IOSlice from now, whichever comes first,
// so it never sleeps past the next tick boundary (spec §4.5:
// "sleep_until(min(last_tick_time+TICK, now+IO_SLICE))").
const IOSlice = TickPeriod

// Clock abstracts time.Now so tests can drive the scheduler with synthetic
// time, matching the teacher's logging.Clock/ClockFunc pattern.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Hooks are the callbacks a Scheduler drives each iteration. All three are
// required; GameTick and IOPass correspond to spec §4.5's
// world_orchestrator.game_tick()/network_manager.handle_network_io(), and
// CompressTicks to network_manager.compress_ticks().
type Hooks struct {
	GameTick      func(tick uint64)
	CompressTicks func(tick uint64)
	IOPass        func(tick uint64)
}

// Scheduler runs the single-threaded cooperative loop of spec §4.5/§5.
type Scheduler struct {
	clock  Clock
	hooks  Hooks
	logger telemetry.Logger
	sleep  func(time.Duration)

	lastTickTime time.Time
	tickCount    uint64
	started      bool
}

// New constructs a Scheduler. clock may be nil to use wall-clock time.
func New(clock Clock, hooks Hooks, logger telemetry.Logger) *Scheduler {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	return &Scheduler{
		clock:  clock,
		hooks:  hooks,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// TickCount reports how many game ticks have run so far.
func (s *Scheduler) TickCount() uint64 { return s.tickCount }

// Run drives the loop until ctx is cancelled (spec §8: "ShutdownRequested").
// It implements the exact iteration pseudocode of spec §4.5.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.started {
		s.lastTickTime = s.clock.Now()
		s.started = true
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.step()
		sleepFor := s.nextSleep()
		if sleepFor > 0 {
			s.sleep(sleepFor)
		}
	}
}

// Step runs exactly one iteration: the clock check, at most one game tick,
// compress_ticks, and the I/O pass. Exported for tests that want to drive
// the scheduler deterministically without a real sleep loop.
func (s *Scheduler) Step() { s.step() }

func (s *Scheduler) step() {
	if !s.started {
		s.lastTickTime = s.clock.Now()
		s.started = true
	}
	now := s.clock.Now()
	if now.Before(s.lastTickTime) {
		// Clock jumped backwards: leave last_tick_time unchanged, no tick
		// fires (spec §8 boundary behavior).
		s.hooks.IOPass(s.tickCount)
		return
	}
	if !now.Before(s.lastTickTime.Add(TickPeriod)) {
		if now.Sub(s.lastTickTime) > CatchupResetThreshold {
			if s.logger != nil {
				s.logger.Printf("Server too slow")
			}
			s.lastTickTime = now
		} else {
			s.lastTickTime = s.lastTickTime.Add(TickPeriod)
		}
		s.tickCount++
		s.hooks.GameTick(s.tickCount)
		s.hooks.CompressTicks(s.tickCount)
	}
	s.hooks.IOPass(s.tickCount)
}

// nextSleep computes how long to sleep before the next iteration, per the
// sleep_until formula in spec §4.5.
func (s *Scheduler) nextSleep() time.Duration {
	now := s.clock.Now()
	nextTick := s.lastTickTime.Add(TickPeriod)
	ioDeadline := now.Add(IOSlice)
	target := nextTick
	if ioDeadline.Before(target) {
		target = ioDeadline
	}
	d := target.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
