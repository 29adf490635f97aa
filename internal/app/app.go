// Package app wires together the Process Supervisor: config, logging,
// the ticket store, the world, the scheduler and the network manager, plus
// signal-driven startup/shutdown ordering (spec §2 "Process Supervisor",
// expanded in SPEC_FULL.md §10).
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"ironkeep/server/internal/config"
	"ironkeep/server/internal/login"
	"ironkeep/server/internal/netio"
	"ironkeep/server/internal/scheduler"
	"ironkeep/server/internal/telemetry"
	"ironkeep/server/internal/ticketstore"
	"ironkeep/server/internal/worldstore"
	"ironkeep/server/internal/worldstore/jsonfile"
	"ironkeep/server/internal/worldstore/sqlite"
	"ironkeep/server/internal/worldtick"
	"ironkeep/server/logging"
	"ironkeep/server/logging/sinks"

	"github.com/redis/go-redis/v9"
)

// StartupError wraps a failure that occurs before the scheduler starts
// running: bad config, listen bind failure, world-data load failure.
// cmd/server/main.go maps it to exit code 2 (spec §6).
type StartupError struct{ Err error }

func (e *StartupError) Error() string { return "startup: " + e.Err.Error() }
func (e *StartupError) Unwrap() error  { return e.Err }

// FatalError wraps a non-recoverable runtime failure: a panic inside a
// collaborator. cmd/server/main.go maps it to exit code 3 (spec §6).
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error  { return e.Err }

// shutdownDrainDeadline bounds how long the supervisor waits for
// connections to drain their out_ring after a shutdown is requested before
// force-closing the listener (spec §5 "Cancellation and timeouts").
const shutdownDrainDeadline = 2 * time.Second

// Run constructs every collaborator and drives the scheduler until ctx is
// cancelled (SIGINT/SIGTERM, spec §6), then performs the drain-then-close
// shutdown sequence. A second cancellation of an already-cancelled ctx is
// a no-op (spec §8 "Double shutdown").
func Run(ctx context.Context) error {
	fallback := log.Default()
	cfg := config.FromEnv(telemetry.WrapLogger(fallback))
	if err := cfg.Validate(); err != nil {
		return &StartupError{Err: err}
	}

	router, err := logging.NewRouter(logging.ClockFunc(time.Now), logging.DefaultConfig(), []logging.NamedSink{
		{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout, logging.ConsoleConfig{})},
	})
	if err != nil {
		return &StartupError{Err: fmt.Errorf("failed to construct logging router: %w", err)}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = router.Close(closeCtx)
	}()

	metrics := logging.NewMetrics()
	appLogger := &routerLogger{router: router, fallback: fallback}
	appMetrics := telemetry.WrapMetrics(metrics)

	store, err := newWorldStore(cfg)
	if err != nil {
		return &StartupError{Err: err}
	}
	snapshot, err := store.Load(ctx)
	if err != nil {
		return &StartupError{Err: fmt.Errorf("failed to load world snapshot: %w", err)}
	}

	tickets, err := newTicketStore(cfg)
	if err != nil {
		return &StartupError{Err: err}
	}

	chars := worldtick.NewCharacterTable(snapshot.CharacterSlots)
	loginMachine := login.New(tickets, chars)

	managerCfg := netio.DefaultManagerConfig(cfg.ListenAddr)
	managerCfg.MaxConnections = cfg.MaxConnections
	managerCfg.AcceptBurst = cfg.AcceptBurst
	managerCfg.ConnConfig = netio.Config{
		RecvBurst: cfg.RecvBurst,
		InBufCap:  cfg.InBufCap,
		OBufCap:   cfg.OBufCap,
		TBufCap:   cfg.TBufCap,
	}
	managerCfg.IdleTimeout = cfg.IdleTimeout
	manager, err := netio.NewManager(managerCfg, appLogger, appMetrics)
	if err != nil {
		return &StartupError{Err: fmt.Errorf("failed to bind listener: %w", err)}
	}

	if cfg.Observability.EnablePprofTrace {
		startPprofServer(cfg.PprofAddr, appLogger)
	}

	population := worldtick.NewPopulation(cfg.PopulationCap)
	worldEffects := worldtick.NewEffectSet()
	items := worldtick.NewItemSet()
	worldClock := worldtick.NewWorldClock()
	send, currentTick := sendersFor(manager)
	orchestrator := worldtick.New(send, population.Tick, worldEffects.Tick, items.Tick, worldClock.Tick,
		dispatchingPlrCmdHandler(loginMachine, ctx, currentTick))
	orchestrator.Globals.Ticker = snapshot.Ticker
	orchestrator.LagStoneThreshold = cfg.LagStoneThreshold
	orchestrator.LagStone = func(conn *netio.Connection, lagTicks uint32) {
		appMetrics.Add("worldtick_lag_stone_total", 1)
		appLogger.Printf("lag stone: conn=%d lag=%d ticks", conn.ID, lagTicks)
	}

	sched := scheduler.New(nil, scheduler.Hooks{
		GameTick: func(tick uint64) {
			currentTick.Store(tick)
			orchestrator.GameTick(tick, manager.Connections())
		},
		CompressTicks: manager.CompressTicks,
		IOPass:        manager.HandleNetworkIO,
	}, appLogger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				appLogger.Printf("panic in scheduler: %v", r)
				err = &FatalError{Err: fmt.Errorf("panic in scheduler: %v", r)}
			}
		}()
		sched.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return runPeriodicSnapshot(groupCtx, store, chars, orchestrator, appLogger)
	})

	appLogger.Printf("ironkeep server listening on %s", manager.Addr())
	runErr := group.Wait()

	drainShutdown(manager, sched, appLogger)
	_ = manager.Close()

	finalSnapshot := worldstore.Snapshot{CharacterSlots: chars.Snapshot(), Ticker: orchestrator.Globals.Ticker}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Save(saveCtx, finalSnapshot); err != nil {
		appLogger.Printf("failed to save world snapshot on shutdown: %v", err)
	}
	return runErr
}

// drainShutdown marks every connection Disconnecting(ShutdownRequested)
// and keeps running the I/O pass until every connection has drained and
// closed, or shutdownDrainDeadline elapses (spec §5/§7).
func drainShutdown(manager *netio.Manager, sched *scheduler.Scheduler, logger telemetry.Logger) {
	tick := sched.TickCount()
	manager.MarkAllDisconnecting(netio.ReasonShutdownRequested, tick)
	deadline := time.Now().Add(shutdownDrainDeadline)
	for !manager.AllClosed() && time.Now().Before(deadline) {
		manager.HandleNetworkIO(tick)
		time.Sleep(10 * time.Millisecond)
	}
	if !manager.AllClosed() {
		logger.Printf("shutdown drain deadline exceeded; force-closing remaining connections")
	}
}

// startPprofServer exposes net/http/pprof's profiling endpoints on a
// dedicated mux, gated behind IRONKEEP_ENABLE_PPROF_TRACE (spec §6 ambient
// tuning, grounded on the teacher's ENABLE_PPROF_TRACE toggle). It never
// shares http.DefaultServeMux with anything else this process might serve.
func startPprofServer(addr string, logger telemetry.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("pprof server stopped: %v", err)
		}
	}()
}

func newWorldStore(cfg config.Config) (worldstore.Store, error) {
	switch cfg.WorldStoreBackend {
	case "sqlite":
		return sqlite.New(filepath.Join(cfg.DataDir, "world.db"))
	case "jsonfile":
		return jsonfile.New(cfg.DataDir, ""), nil
	default:
		return nil, fmt.Errorf("unknown world store backend %q", cfg.WorldStoreBackend)
	}
}

func newTicketStore(cfg config.Config) (ticketstore.Store, error) {
	switch cfg.TicketBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ticketstore.NewRedisStore(client), nil
	case "memory":
		return ticketstore.NewMemoryStore(5*time.Minute, time.Minute), nil
	default:
		return nil, fmt.Errorf("unknown ticket backend %q", cfg.TicketBackend)
	}
}

// runPeriodicSnapshot saves the world snapshot on a fixed interval,
// coordinating with the scheduler only through the snapshot itself (spec
// §5: "a snapshot-request / snapshot-ready rendezvous").
func runPeriodicSnapshot(ctx context.Context, store worldstore.Store, chars *worldtick.CharacterTable, orchestrator *worldtick.Orchestrator, logger telemetry.Logger) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := worldstore.Snapshot{CharacterSlots: chars.Snapshot(), Ticker: orchestrator.Globals.Ticker}
			if err := store.Save(ctx, snap); err != nil {
				logger.Printf("periodic world snapshot save failed: %v", err)
			}
		}
	}
}

// routerLogger adapts logging.Router to telemetry.Logger by publishing a
// generic system-category event for every Printf call, so core
// collaborators' internal-error logging (spec §7) flows through the same
// structured sink pipeline as everything else.
type routerLogger struct {
	router   *logging.Router
	fallback *log.Logger
}

func (r *routerLogger) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.router.Publish(context.Background(), logging.Event{
		Type:     "system.log",
		Severity: logging.SeverityInfo,
		Category: logging.CategorySystem,
		Payload:  msg,
	})
}
