// Package worker implements the parent-visible worker handle of spec
// §4.6: configuration, restart/fail policy, and the scheduler-facing
// status mapping wrapped around an internal/instance.Instance.
package worker

import (
	"time"

	"github.com/pavog/taskmaster/internal/proxy"
	"github.com/pavog/taskmaster/internal/spawn"
)

// Defaults mirror spec §9's "bounded restart" and the supplemental
// watchdog/backoff behaviors (SPEC_FULL §9).
const (
	DefaultMaxRestartAttempts = 3
	DefaultRestartBaseDelay   = time.Second
	DefaultRestartMaxDelay    = 30 * time.Second
)

// Config describes one worker slot. Spawner and Proxy are mutually
// exclusive: a worker with a Proxy routes its instance through the
// proxy's shared socket (spec §3); otherwise Spawner produces the
// worker's own socket directly.
type Config struct {
	// Group restricts this worker to tasks with a matching group, or
	// nil to accept any group.
	Group *string
	// Spawner produces a direct child socket. Required unless Proxy is
	// set.
	Spawner spawn.ChildSpawner
	// Proxy, if set, hosts this worker's instance remotely.
	Proxy *proxy.Proxy

	// HandshakeTimeout bounds Instance.Start; zero uses
	// instance.DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// MaxRestartAttempts bounds automatic respawn after instance
	// failure. Zero (unset) uses DefaultMaxRestartAttempts; a negative
	// value explicitly disables restart (fail permanently on first
	// failure).
	MaxRestartAttempts int
	// RestartBaseDelay/RestartMaxDelay configure the exponential
	// backoff between restart attempts.
	RestartBaseDelay time.Duration
	RestartMaxDelay  time.Duration
	// HealthCheckTimeout, if positive, fails an instance that has sat
	// WORKING without a response for longer than this (spec §9 open
	// question: detect silent child crashes promptly).
	HealthCheckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	switch {
	case c.MaxRestartAttempts == 0:
		c.MaxRestartAttempts = DefaultMaxRestartAttempts
	case c.MaxRestartAttempts < 0:
		c.MaxRestartAttempts = 0
	}
	if c.RestartBaseDelay <= 0 {
		c.RestartBaseDelay = DefaultRestartBaseDelay
	}
	if c.RestartMaxDelay <= 0 {
		c.RestartMaxDelay = DefaultRestartMaxDelay
	}
	return c
}
