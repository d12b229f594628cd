package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/pavog/taskmaster/internal/proxy"
	"github.com/pavog/taskmaster/internal/spawn"
	"github.com/pavog/taskmaster/internal/worker"
)

// maxSpawnConcurrency bounds how many child processes (or proxied
// start requests) are fanned out at once, so standing up a large pool
// doesn't serialize N forks nor open unbounded fds at once.
const maxSpawnConcurrency = 8

// AutoDetectWorkers stands up n workers using the runtime's detected
// fork capability (spec §9): directly via os/exec, or through a freshly
// spawned proxy runtime when TASKMASTER_FORK_VIA_PROXY is set (spec
// §6's single opt-in switch).
func (tm *Taskmaster) AutoDetectWorkers(n int) error {
	if n <= 0 {
		return nil
	}

	spawner := spawn.NewProcessSpawner(spawn.ProcessConfig{
		Executable: tm.executable,
		Bootstrap:  tm.bootstrap,
	}, tm.logger)

	cfg := worker.Config{}
	if spawn.ForkViaProxyRequested() {
		p := proxy.New(spawner, tm.logger)
		if err := tm.enrollProxy(p); err != nil {
			return fmt.Errorf("orchestrator: auto-detect via proxy: %w", err)
		}
		cfg.Proxy = p
	} else {
		if !spawn.CanForkChild() {
			return errors.New("orchestrator: runtime cannot fork a child process")
		}
		cfg.Spawner = spawner
	}

	template := worker.New(cfg, tm.logger)
	return tm.spawnPooled(template, n)
}

// spawnPooled clones template n times and starts every clone
// concurrently, bounded by maxSpawnConcurrency, then appends the
// results to the worker set once every spawn attempt has returned.
func (tm *Taskmaster) spawnPooled(template *worker.Worker, n int) error {
	if n <= 0 {
		return nil
	}

	concurrency := n
	if concurrency > maxSpawnConcurrency {
		concurrency = maxSpawnConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return fmt.Errorf("orchestrator: spawn pool: %w", err)
	}
	defer pool.Release()

	clones := make([]*worker.Worker, n)
	for i := range clones {
		clones[i] = template.Clone()
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for _, w := range clones {
		w := w
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := w.Start(tm.ctx); err != nil {
				tm.logger.Warn("orchestrator: pooled worker start failed", "worker_id", w.ID(), "error", err)
			}
		})
		if submitErr != nil {
			wg.Done()
			tm.logger.Warn("orchestrator: spawn pool submit failed", "error", submitErr)
		}
	}
	wg.Wait()

	tm.workers = append(tm.workers, clones...)
	return nil
}
