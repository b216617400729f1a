// Package esconfig holds the operator-facing knob surface spec.md §1
// calls out as "enabled by the operator" without naming a concrete
// type: master enable, reclaim-in enable, log level, and watchdog
// enable/expiry.
//
// Grounded on original_source/drivers/block/zram/expandmem/
// eswap_ctrl.c's global_settings struct and its
// eswap_{enable,reclaimin_enable,wdt,loglevel}_{show,store} sysfs
// pairs: enable gates reclaim_in_enable (disabling master disables
// reclaim-in too, never the reverse), and reclaim-in/watchdog toggles
// are refused unless master enable is already on.
package esconfig

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/common/log"
)

// LogLevel is the operator log-level knob. Config only stores it (and
// ctlapi reports it); it is not applied to the prometheus/common/log
// logger.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Config is the live, atomically-updated operator knob surface.
type Config struct {
	enable          atomic.Bool
	reclaimInEnable atomic.Bool
	watchdogEnable  atomic.Bool
	watchdogExpire  atomic.Int64 // nanoseconds
	logLevel        atomic.Int32
}

// New returns a Config with everything disabled, matching the
// teacher's zeroed global_settings at module load.
func New() *Config {
	c := &Config{}
	c.watchdogExpire.Store(int64(5 * time.Second))
	c.logLevel.Store(int32(LevelInfo))
	return c
}

// SetEnable toggles the master switch. Disabling also disables
// reclaim-in, mirroring eswap_set_enable's coupling; enabling does not
// by itself turn reclaim-in on.
func (c *Config) SetEnable(en bool) {
	if !en {
		c.reclaimInEnable.Store(false)
	}
	c.enable.Store(en)
}

func (c *Config) Enabled() bool { return c.enable.Load() }

// SetReclaimInEnable is refused (a no-op) unless the master switch is
// already on, mirroring eswap_reclaimin_enable_store's guard.
func (c *Config) SetReclaimInEnable(en bool) {
	if !c.Enabled() {
		log.Warn("esconfig: reclaim-in toggle ignored, master disabled")
		return
	}
	c.reclaimInEnable.Store(en)
}

func (c *Config) ReclaimInEnabled() bool { return c.reclaimInEnable.Load() }

// SetWatchdogEnable is likewise refused unless the master switch is on.
func (c *Config) SetWatchdogEnable(en bool) {
	if !c.Enabled() {
		log.Warn("esconfig: watchdog toggle ignored, master disabled")
		return
	}
	c.watchdogEnable.Store(en)
}

func (c *Config) WatchdogEnabled() bool { return c.watchdogEnable.Load() }

func (c *Config) SetWatchdogExpire(d time.Duration) { c.watchdogExpire.Store(int64(d)) }
func (c *Config) WatchdogExpire() time.Duration     { return time.Duration(c.watchdogExpire.Load()) }

func (c *Config) SetLogLevel(l LogLevel) { c.logLevel.Store(int32(l)) }
func (c *Config) LogLevel() LogLevel     { return LogLevel(c.logLevel.Load()) }
