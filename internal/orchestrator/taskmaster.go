// Package orchestrator implements the Taskmaster core of spec §4.8:
// queues tasks and factories, runs the cooperative single-threaded
// update loop, and assigns tasks to available workers.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavog/taskmaster/internal/proxy"
	"github.com/pavog/taskmaster/internal/status"
	"github.com/pavog/taskmaster/internal/task"
	"github.com/pavog/taskmaster/internal/worker"
)

// DefaultSocketWaitTime is the bounded poll timeout of spec §9 ("global
// SOCKET_WAIT_TIME... default 1000µs").
const DefaultSocketWaitTime = 1000 * time.Microsecond

// Taskmaster is the parent-side orchestration engine (spec §4.8). It
// is single-threaded cooperative (spec §5): every method here must be
// called from the same goroutine that drives Update.
type Taskmaster struct {
	ctx    context.Context
	logger *slog.Logger

	bootstrap      string
	executable     string
	socketWaitTime time.Duration

	workers   []*worker.Worker
	proxies   []*proxy.Proxy
	factories []task.Factory
	queue     []task.Task
}

// New returns an empty Taskmaster. logger defaults to slog.Default()
// when nil.
func New(logger *slog.Logger) *Taskmaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Taskmaster{
		ctx:            context.Background(),
		logger:         logger,
		socketWaitTime: DefaultSocketWaitTime,
	}
}

// SetContext overrides the context used when spawning workers and
// proxies (cancelling it does not itself stop the update loop; call
// Stop for that).
func (tm *Taskmaster) SetContext(ctx context.Context) *Taskmaster {
	if ctx != nil {
		tm.ctx = ctx
	}
	return tm
}

// SetBootstrap sets the default init script path new auto-detected
// workers launch their child with (spec §6).
func (tm *Taskmaster) SetBootstrap(path string) *Taskmaster {
	tm.bootstrap = path
	return tm
}

// SetExecutable sets the default child interpreter path for
// auto-detected workers (spec §6).
func (tm *Taskmaster) SetExecutable(path string) *Taskmaster {
	tm.executable = path
	return tm
}

// SetSocketWaitTime overrides the bounded poll timeout of the update
// cycle's final step (spec §4.8 step 3).
func (tm *Taskmaster) SetSocketWaitTime(d time.Duration) *Taskmaster {
	if d > 0 {
		tm.socketWaitTime = d
	}
	return tm
}

// AddTask enqueues t for later assignment (spec §4.8).
func (tm *Taskmaster) AddTask(t task.Task) {
	tm.queue = append(tm.queue, t)
}

// AddTaskFactory registers f, consulted before the queue on every
// assignment attempt (spec §4.8 task selection).
func (tm *Taskmaster) AddTaskFactory(f task.Factory) {
	tm.factories = append(tm.factories, f)
}

// AddWorker registers w, enrolling (and starting, if not running) any
// Proxy it references, then starts w itself (spec §4.8 worker
// enrollment).
func (tm *Taskmaster) AddWorker(w *worker.Worker) error {
	if p := w.Proxy(); p != nil {
		if err := tm.enrollProxy(p); err != nil {
			return err
		}
	}
	if err := w.Start(tm.ctx); err != nil {
		tm.logger.Warn("orchestrator: worker start failed", "worker_id", w.ID(), "error", err)
	}
	tm.workers = append(tm.workers, w)
	return nil
}

// AddWorkers clones w n times and starts every clone, fanning the
// spawns out across a bounded pool (spec §4.8: "addWorkers(w, n)
// clones n times").
func (tm *Taskmaster) AddWorkers(w *worker.Worker, n int) error {
	if p := w.Proxy(); p != nil {
		if err := tm.enrollProxy(p); err != nil {
			return err
		}
	}
	return tm.spawnPooled(w, n)
}

// SetWorkers replaces the worker set entirely.
func (tm *Taskmaster) SetWorkers(list []*worker.Worker) error {
	tm.workers = nil
	for _, w := range list {
		if err := tm.AddWorker(w); err != nil {
			return err
		}
	}
	return nil
}

// enrollProxy registers p exactly once (by identity, spec §3) and
// starts it if it isn't already running. The shared configuration
// options (bootstrap/executable) are pushed into the proxy indirectly:
// they're baked into the spawn.ChildSpawner the caller constructed the
// Proxy with, which is the natural place for them in a statically
// typed runtime rather than a separate config-injection step.
func (tm *Taskmaster) enrollProxy(p *proxy.Proxy) error {
	for _, existing := range tm.proxies {
		if existing == p {
			return nil
		}
	}
	tm.proxies = append(tm.proxies, p)
	if !p.IsRunning() {
		if err := p.Start(tm.ctx); err != nil {
			tm.logger.Warn("orchestrator: proxy start failed", "error", err)
			return err
		}
	}
	return nil
}

// Wait runs the update cycle until every worker has settled: none are
// still WORKING a task, and none are still STARTING a real child's
// handshake (spec §4.8). Always pumps at least once: right after
// AddWorker/AddTask every worker is still STARTING, not WORKING, so
// checking the exit condition before the first Update would return
// immediately without ever observing a handshake or assigning a task.
// A worker stuck in STARTING (handshake never completing) or WORKING
// (task never resolving) keeps Wait blocked indefinitely, same as any
// other unsettled state machine driven by repeated Update calls.
func (tm *Taskmaster) Wait() {
	tm.Update()
	for tm.anyUnsettled() {
		tm.Update()
	}
}

func (tm *Taskmaster) anyUnsettled() bool {
	for _, w := range tm.workers {
		switch w.GetStatus() {
		case status.Working, status.Starting:
			return true
		}
	}
	return false
}

// WaitUntilAllTasksAreAssigned runs until the queued task list is
// empty; it does not drain factories (spec §4.8).
func (tm *Taskmaster) WaitUntilAllTasksAreAssigned() {
	for len(tm.queue) > 0 {
		tm.Update()
	}
}

// Stop stops every worker and every enrolled proxy (spec §4.8).
func (tm *Taskmaster) Stop() {
	for _, w := range tm.workers {
		if err := w.Stop(); err != nil {
			tm.logger.Warn("orchestrator: worker stop failed", "worker_id", w.ID(), "error", err)
		}
	}
	for _, p := range tm.proxies {
		if err := p.Stop(tm.ctx); err != nil {
			tm.logger.Warn("orchestrator: proxy stop failed", "error", err)
		}
	}
}
