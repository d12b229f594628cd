package socket

import (
	"time"

	"golang.org/x/sys/unix"
)

// WaitReadable blocks up to timeout for readiness on any of fds, the
// orchestrator's single suspension point per update iteration (spec
// §4.8 step 3, §5). If fds is empty it sleeps unconditionally for
// timeout, matching "if no selectable handles exist, sleep
// unconditionally for the same duration".
func WaitReadable(fds []int, timeout time.Duration) error {
	if len(fds) == 0 {
		time.Sleep(timeout)
		return nil
	}

	pollFds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pollFds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	timeoutMS := int(timeout / time.Millisecond)
	if timeoutMS <= 0 && timeout > 0 {
		timeoutMS = 1
	}

	for {
		_, err := unix.Poll(pollFds, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
