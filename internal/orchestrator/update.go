package orchestrator

import (
	"github.com/pavog/taskmaster/internal/socket"
	"github.com/pavog/taskmaster/internal/status"
	"github.com/pavog/taskmaster/internal/task"
	"github.com/pavog/taskmaster/internal/worker"
)

// Update runs one iteration of the update cycle (spec §4.8):
// assign→pump→retry-assign for each worker, then pump every proxy,
// then a single bounded readiness wait.
func (tm *Taskmaster) Update() {
	for _, w := range tm.workers {
		tm.tryAssign(w)
		w.Update(tm.ctx)
		tm.tryAssign(w)
	}
	for _, p := range tm.proxies {
		p.Update()
	}
	tm.waitForReadiness()
}

func (tm *Taskmaster) tryAssign(w *worker.Worker) {
	if w.GetStatus() != status.Available {
		return
	}
	t := tm.getNextTask(w.Group())
	if t == nil {
		return
	}
	if _, err := w.RunTask(t); err != nil {
		tm.logger.Error("orchestrator: assign failed, requeuing", "worker_id", w.ID(), "error", err)
		tm.queue = append([]task.Task{t}, tm.queue...)
	}
}

// waitForReadiness implements spec §4.8 step 3: an OS select/poll
// bounded by socketWaitTime over every selectable handle exposed in
// this call. When at least one worker or proxy is registered but none
// exposes a handle right now, it returns without sleeping; the check
// keeps no history, so a real-transport worker whose handle is
// currently unavailable counts the same as a synchronous one. Only
// with nothing registered does it fall through to WaitReadable's
// unconditional sleep.
func (tm *Taskmaster) waitForReadiness() {
	var fds []int
	sawRealTransport := false

	for _, w := range tm.workers {
		if fd, ok := w.SelectableReadHandle(); ok {
			sawRealTransport = true
			fds = append(fds, fd)
		}
	}
	for _, p := range tm.proxies {
		if fd, ok := p.SelectableReadHandle(); ok {
			sawRealTransport = true
			fds = append(fds, fd)
		}
	}

	if !sawRealTransport && (len(tm.workers)+len(tm.proxies)) > 0 {
		return
	}

	if err := socket.WaitReadable(fds, tm.socketWaitTime); err != nil {
		tm.logger.Debug("orchestrator: readiness poll error", "error", err)
	}
}
