package taskmaster

import (
	"log/slog"

	"github.com/pavog/taskmaster/internal/orchestrator"
	"github.com/pavog/taskmaster/internal/proxy"
	"github.com/pavog/taskmaster/internal/spawn"
	"github.com/pavog/taskmaster/internal/status"
	"github.com/pavog/taskmaster/internal/task"
	"github.com/pavog/taskmaster/internal/worker"
)

// Public API — re-export internal types as a stable contract.

// Task is a unit of work with a stable group label and result/error
// callback hooks.
type Task = task.Task

// CallableTask is a Task that also exposes a finite registry of
// callbacks a running child may invoke on it.
type CallableTask = task.CallableTask

// TaskFactory lazily produces Tasks, optionally restricted to a set of
// group labels.
type TaskFactory = task.Factory

// TaskError is the payload delivered to a Task's HandleError callback.
type TaskError = task.Error

// WorkerStatus is one of a worker's lifecycle states.
type WorkerStatus = status.Status

const (
	StatusStarting  = status.Starting
	StatusIdle      = status.Idle
	StatusWorking   = status.Working
	StatusAvailable = status.Available
	StatusFailed    = status.Failed
	StatusFinished  = status.Finished
)

// WorkerConfig configures a Worker (spec §4.6).
type WorkerConfig = worker.Config

// Worker is the parent-visible handle wrapping one child instance at a
// time, with restart/fail policy.
type Worker = worker.Worker

// NewWorker returns an unstarted Worker for cfg.
func NewWorker(cfg WorkerConfig, logger *slog.Logger) *Worker {
	return worker.New(cfg, logger)
}

// Proxy is a parent-side client of a remote worker-hosting runtime,
// multiplexing many logical worker sockets over one physical
// transport.
type Proxy = proxy.Proxy

// NewProxy returns a Proxy that spawns its runtime via spawner.
func NewProxy(spawner ChildSpawner, logger *slog.Logger) *Proxy {
	return proxy.New(spawner, logger)
}

// ChildSpawner starts one child and returns the parent end of a
// bidirectional framed socket connected to it.
type ChildSpawner = spawn.ChildSpawner

// ProcessConfig names the child executable and how to invoke it.
type ProcessConfig = spawn.ProcessConfig

// NewProcessSpawner returns a ChildSpawner that forks a real OS child
// process over a unix socketpair.
func NewProcessSpawner(cfg ProcessConfig, logger *slog.Logger) *spawn.ProcessSpawner {
	return spawn.NewProcessSpawner(cfg, logger)
}

// ForkViaProxyEnvVar, when set in the environment, causes
// AutoDetectWorkers to spawn a proxy runtime and route workers through
// it instead of forking them directly.
const ForkViaProxyEnvVar = spawn.ForkViaProxyEnvVar

// Taskmaster is the parent-side orchestration engine: it queues tasks
// and factories, runs the update loop, and assigns tasks to available
// workers.
type Taskmaster = orchestrator.Taskmaster

// New returns an empty Taskmaster.
func New(logger *slog.Logger) *Taskmaster {
	return orchestrator.New(logger)
}
