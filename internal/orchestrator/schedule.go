package orchestrator

import "github.com/pavog/taskmaster/internal/task"

// getNextTask implements spec §4.8's task selection: factories in
// insertion order (skipping those that declare a non-nil group list
// excluding group), then a FIFO scan of the queue.
func (tm *Taskmaster) getNextTask(group *string) task.Task {
	for _, f := range tm.factories {
		if !factoryAcceptsGroup(f, group) {
			continue
		}
		if t := f.CreateNextTask(group); t != nil {
			return t
		}
	}

	for i, t := range tm.queue {
		if sameGroup(t.Group(), group) {
			tm.queue = append(tm.queue[:i:i], tm.queue[i+1:]...)
			return t
		}
	}

	return nil
}

func factoryAcceptsGroup(f task.Factory, group *string) bool {
	groups := f.Groups()
	if groups == nil {
		return true
	}
	key := groupKey(group)
	for _, g := range groups {
		if g == key {
			return true
		}
	}
	return false
}

func groupKey(g *string) string {
	if g == nil {
		return ""
	}
	return *g
}

func sameGroup(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
