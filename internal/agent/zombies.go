package agent

import (
	"context"
	"syscall"
	"time"
)

// ReapZombies runs the PID-1 zombie-collection loop for the lifetime of
// ctx: every second it drains every exited child with a non-blocking
// wait4, since the shell invocations spawned per exec call are this
// process's direct children and nothing else reaps them.
func ReapZombies(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapOnce()
		}
	}
}

func reapOnce() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}
