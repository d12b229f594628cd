package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavog/taskmaster/internal/instance"
	"github.com/pavog/taskmaster/internal/message"
	"github.com/pavog/taskmaster/internal/proxy"
	"github.com/pavog/taskmaster/internal/socket"
	"github.com/pavog/taskmaster/internal/status"
	"github.com/pavog/taskmaster/internal/task"
)

// ErrNotStarted is returned by RunTask before Start has produced an
// instance.
var ErrNotStarted = errors.New("worker: not started")

// descriptor is the payload carried by a proxied StartWorkerInstanceRequest,
// letting the remote runtime know which group (if any) to apply.
type descriptor struct {
	Group *string `msgpack:"group,omitempty"`
}

// Worker is the parent-visible handle of spec §4.6: configuration plus
// restart/fail policy layered on top of one internal/instance.Instance
// at a time.
type Worker struct {
	cfg    Config
	logger *slog.Logger

	id       string
	instance *instance.Instance

	workingSince      time.Time
	restartAttempts   int
	pendingRestartAt  time.Time
	permanentlyFailed bool
	stopped           bool
}

// New returns an unstarted Worker for cfg.
func New(cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg.withDefaults(), logger: logger}
}

// Clone returns a fresh, unstarted Worker sharing cfg (including the
// same Proxy reference, per spec §3's "shared by reference" invariant)
// but with its own identity and instance. Used by addWorkers(w, n).
func (w *Worker) Clone() *Worker {
	return New(w.cfg, w.logger)
}

// Group returns the worker's group restriction, or nil for any group.
func (w *Worker) Group() *string { return w.cfg.Group }

// Proxy returns the Proxy this worker routes through, or nil for a
// direct-socket worker. The orchestrator uses this for enrollment-by-
// identity (spec §4.8, §9's "shared Proxy as back-reference").
func (w *Worker) Proxy() *proxy.Proxy { return w.cfg.Proxy }

// ID returns the worker's instance identifier, assigned on first
// Start.
func (w *Worker) ID() string { return w.id }

// Start spawns (directly or via Proxy) a fresh backing instance and
// begins its handshake wait. Non-blocking: failures are reflected
// through the instance's own FAILED status, observable via GetStatus.
func (w *Worker) Start(ctx context.Context) error {
	if w.id == "" {
		w.id = uuid.NewString()
	}

	sock, spawnErr := w.spawn(ctx)
	w.instance = instance.New(w.id, sock, w.logger)
	if spawnErr != nil {
		w.instance.FailStart(spawnErr)
		return spawnErr
	}

	handshakeTimeout := w.cfg.HandshakeTimeout
	prom := w.instance.Start(handshakeTimeout)
	prom.Catch(func(err error) {
		w.logger.Debug("worker: handshake did not complete", "worker_id", w.id, "error", err)
	})
	return nil
}

func (w *Worker) spawn(ctx context.Context) (socket.Framed, error) {
	if w.cfg.Proxy != nil {
		payload, err := message.EncodePayload(descriptor{Group: w.cfg.Group})
		if err != nil {
			return nil, fmt.Errorf("worker: encode descriptor: %w", err)
		}
		if _, err := w.cfg.Proxy.StartWorkerInstance(w.id, payload); err != nil {
			return nil, fmt.Errorf("worker: start via proxy: %w", err)
		}
		sock, err := w.cfg.Proxy.OpenInstanceSocket(w.id)
		if err != nil {
			return nil, fmt.Errorf("worker: open proxied socket: %w", err)
		}
		return sock, nil
	}
	if w.cfg.Spawner == nil {
		return nil, errors.New("worker: no spawner or proxy configured")
	}
	return w.cfg.Spawner.Spawn(ctx)
}

// GetStatus computes the scheduler-facing status: IDLE is only
// reported as AVAILABLE (spec §4.6); a deliberately Stop()ped worker
// reports FINISHED (spec line 97); a worker that has exhausted its
// restart attempts reports FAILED regardless of instance state.
func (w *Worker) GetStatus() status.Status {
	if w.stopped {
		return status.Finished
	}
	if w.permanentlyFailed {
		return status.Failed
	}
	if w.instance == nil {
		return status.Starting
	}
	if !w.pendingRestartAt.IsZero() {
		return status.Failed
	}
	st := w.instance.Status()
	if st == status.Idle {
		return status.Available
	}
	return st
}

// RunTask assigns t to the backing instance. Precondition:
// GetStatus() == AVAILABLE.
func (w *Worker) RunTask(t task.Task) (*message.Promise, error) {
	if w.instance == nil {
		return nil, ErrNotStarted
	}
	p, err := w.instance.RunTask(t)
	if err == nil {
		w.workingSince = time.Now()
	}
	return p, err
}

// Update pumps the backing instance, runs the health watchdog, and
// drives any pending restart (spec §4.6 + SPEC_FULL §9 supplements).
func (w *Worker) Update(ctx context.Context) {
	if w.stopped || w.permanentlyFailed {
		return
	}

	if !w.pendingRestartAt.IsZero() {
		if time.Now().Before(w.pendingRestartAt) {
			return
		}
		w.pendingRestartAt = time.Time{}
		if err := w.Start(ctx); err != nil {
			w.logger.Warn("worker: restart attempt failed", "worker_id", w.id, "error", err)
		}
		return
	}

	if w.instance == nil {
		return
	}

	w.instance.Update()

	st := w.instance.Status()
	switch st {
	case status.Working:
		if w.cfg.HealthCheckTimeout > 0 && !w.workingSince.IsZero() &&
			time.Since(w.workingSince) > w.cfg.HealthCheckTimeout {
			w.instance.HandleFail(fmt.Errorf("worker: health check timeout after %s", w.cfg.HealthCheckTimeout))
		}
	case status.Failed:
		w.scheduleRestart()
	}
}

func (w *Worker) scheduleRestart() {
	if w.restartAttempts >= w.cfg.MaxRestartAttempts {
		w.permanentlyFailed = true
		w.logger.Error("worker: restart attempts exhausted", "worker_id", w.id, "attempts", w.restartAttempts)
		return
	}
	delay := w.backoffDelay()
	w.restartAttempts++
	w.pendingRestartAt = time.Now().Add(delay)
	w.logger.Warn("worker: scheduling restart", "worker_id", w.id, "attempt", w.restartAttempts, "delay", delay)
}

// backoffDelay doubles RestartBaseDelay per attempt, capped at
// RestartMaxDelay, grounded on stream-capture's RunWithReconnect.
func (w *Worker) backoffDelay() time.Duration {
	d := w.cfg.RestartBaseDelay << w.restartAttempts
	if d <= 0 || d > w.cfg.RestartMaxDelay {
		d = w.cfg.RestartMaxDelay
	}
	return d
}

// SelectableReadHandle exposes the backing instance's transport
// readiness handle for the orchestrator's poll set.
func (w *Worker) SelectableReadHandle() (int, bool) {
	if w.instance == nil {
		return 0, false
	}
	return w.instance.SelectableReadHandle()
}

// Stop tears down the backing instance, prevents further restarts,
// and makes GetStatus report FINISHED rather than FAILED.
func (w *Worker) Stop() error {
	w.stopped = true
	if w.instance == nil {
		return nil
	}
	return w.instance.Stop()
}
