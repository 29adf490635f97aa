// Package config centralizes environment-variable driven configuration,
// following the teacher's os.Getenv/strconv pattern (internal/app.Run) so
// cmd/server/main.go stays thin.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"ironkeep/server/internal/netio"
	"ironkeep/server/internal/observability"
)

// Config bounds every tunable named in spec §3/§5/§6.
type Config struct {
	ListenAddr        string
	MaxConnections    int
	AcceptBurst       int
	RecvBurst         int
	InBufCap          int
	OBufCap           int
	TBufCap           int
	CompressThreshold int // not passed to the wire codec, which uses wire.CompressThreshold
	LagStoneThreshold uint32
	IdleTimeout       time.Duration
	PopulationCap     int
	TicketBackend     string // "memory" or "redis"
	RedisAddr         string
	WorldStoreBackend string // "jsonfile" or "sqlite"
	DataDir           string
	Observability     observability.Config
	PprofAddr         string
}

// Default returns the capacities spec.md gives as examples.
func Default() Config {
	connCfg := netio.DefaultConfig()
	return Config{
		ListenAddr:        ":5555",
		MaxConnections:    netio.DefaultMaxConnections,
		AcceptBurst:       netio.DefaultAcceptBurst,
		RecvBurst:         connCfg.RecvBurst,
		InBufCap:          connCfg.InBufCap,
		OBufCap:           connCfg.OBufCap,
		TBufCap:           connCfg.TBufCap,
		CompressThreshold: 64,
		LagStoneThreshold: 40,
		IdleTimeout:       60 * time.Second,
		PopulationCap:     16,
		TicketBackend:     "memory",
		RedisAddr:         "127.0.0.1:6379",
		WorldStoreBackend: "jsonfile",
		DataDir:           "./data",
		Observability:     observability.Config{EnablePprofTrace: false},
		PprofAddr:         "127.0.0.1:6060",
	}
}

// warner is satisfied by telemetry.Logger, kept narrow so config has no
// dependency on the logging stack beyond Printf.
type warner interface {
	Printf(format string, args ...any)
}

// FromEnv overlays environment variables onto the defaults, matching the
// teacher's KEYFRAME_INTERVAL_TICKS/ENABLE_PPROF_TRACE overlay pattern.
// Parse failures are logged and the default value is kept, never a fatal
// error. Startup errors (spec §6 exit code 2) come from Validate, a bind
// failure, or a world-data load failure.
func FromEnv(logger warner) Config {
	cfg := Default()
	overlayString(&cfg.ListenAddr, "IRONKEEP_LISTEN_ADDR")
	overlayInt(&cfg.MaxConnections, "IRONKEEP_MAX_CONNECTIONS", logger)
	overlayInt(&cfg.AcceptBurst, "IRONKEEP_ACCEPT_BURST", logger)
	overlayInt(&cfg.RecvBurst, "IRONKEEP_RECV_BURST", logger)
	overlayInt(&cfg.InBufCap, "IRONKEEP_INBUF_CAP", logger)
	overlayInt(&cfg.OBufCap, "IRONKEEP_OBUF_CAP", logger)
	overlayInt(&cfg.TBufCap, "IRONKEEP_TBUF_CAP", logger)
	overlayInt(&cfg.CompressThreshold, "IRONKEEP_COMPRESS_THRESHOLD", logger)
	overlayUint32(&cfg.LagStoneThreshold, "IRONKEEP_LAG_STONE_THRESHOLD", logger)
	overlayDuration(&cfg.IdleTimeout, "IRONKEEP_IDLE_TIMEOUT", logger)
	overlayInt(&cfg.PopulationCap, "IRONKEEP_POPULATION_CAP", logger)
	overlayString(&cfg.TicketBackend, "IRONKEEP_TICKET_BACKEND")
	overlayString(&cfg.RedisAddr, "IRONKEEP_REDIS_ADDR")
	overlayString(&cfg.WorldStoreBackend, "IRONKEEP_WORLDSTORE_BACKEND")
	overlayString(&cfg.DataDir, "IRONKEEP_DATA_DIR")
	overlayBool(&cfg.Observability.EnablePprofTrace, "IRONKEEP_ENABLE_PPROF_TRACE", logger)
	overlayString(&cfg.PprofAddr, "IRONKEEP_PPROF_ADDR")
	return cfg
}

// Validate reports a startup configuration error (spec §6 exit code 2).
func (c Config) Validate() error {
	if c.TicketBackend != "memory" && c.TicketBackend != "redis" {
		return fmt.Errorf("config: unknown IRONKEEP_TICKET_BACKEND %q", c.TicketBackend)
	}
	if c.WorldStoreBackend != "jsonfile" && c.WorldStoreBackend != "sqlite" {
		return fmt.Errorf("config: unknown IRONKEEP_WORLDSTORE_BACKEND %q", c.WorldStoreBackend)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("config: IRONKEEP_MAX_CONNECTIONS must be >= 1")
	}
	return nil
}

func overlayString(dst *string, key string) {
	if raw := os.Getenv(key); raw != "" {
		*dst = raw
	}
}

func overlayInt(dst *int, key string, logger warner) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		if logger != nil {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
		}
		return
	}
	*dst = v
}

func overlayUint32(dst *uint32, key string, logger warner) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		if logger != nil {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
		}
		return
	}
	*dst = uint32(v)
}

func overlayBool(dst *bool, key string, logger warner) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		if logger != nil {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
		}
		return
	}
	*dst = v
}

func overlayDuration(dst *time.Duration, key string, logger warner) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		if logger != nil {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
		}
		return
	}
	*dst = v
}
