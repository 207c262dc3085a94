//go:build !linux

package sandbox

import (
	"os/exec"
	"runtime/debug"
)

func isolate(*exec.Cmd) {}

// applyLimits only sets the soft heap goal here. The worker still runs out of process
// and is killed on the deadline, but hard memory and CPU limits need Linux.
func applyLimits(memory, _ uint64) error {
	if memory > 0 {
		debug.SetMemoryLimit(int64(memory))
	}
	return nil
}
