// Package taskmaster is a parent-side orchestration engine that
// dispatches user-defined Tasks to a pool of isolated worker
// instances, each backed by a spawned child process communicating over
// a non-blocking length-prefixed socket.
//
// # Overview
//
// A caller defines Tasks (units of work with a group label and
// handleResult/handleError callbacks), registers Workers (each wrapping
// either a direct child-process socket or a shared Proxy-tunneled one),
// and drives the Taskmaster's update loop:
//
//	tm := taskmaster.New(nil)
//	tm.SetExecutable("/usr/bin/python3").SetBootstrap("worker.py")
//	if err := tm.AutoDetectWorkers(4); err != nil {
//	    log.Fatal(err)
//	}
//	tm.AddTask(myTask)
//	tm.Wait()
//
// # Concurrency model
//
// The orchestrator is single-threaded cooperative: one update loop, no
// shared state across goroutines. Parallelism comes from isolated
// child processes communicating only through sockets. Every blocking
// point is collapsed into one bounded-wait poll per update iteration.
//
// # Callbacks into the parent
//
// A running child may call back into the parent to invoke a named
// method on the Task that spawned it, by implementing CallableTask and
// exposing a finite registry of callbacks rather than relying on
// reflection.
//
// # Proxying
//
// Workers may share a single Proxy, which tunnels many logical worker
// sockets over one physical transport to a remote worker-hosting
// runtime, useful when spawning one process per worker is undesirable.
package taskmaster
