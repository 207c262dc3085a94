//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
)

// isolate kills the worker if the server dies first
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}

// applyLimits caps the worker's address space at its current size plus memory, and its
// CPU time at cpu seconds. Zero leaves a limit unset.
func applyLimits(memory, cpu uint64) error {
	if memory > 0 {
		debug.SetMemoryLimit(int64(memory))
		base, err := addressSpace()
		if err != nil {
			return err
		}
		if err := setrlimit(syscall.RLIMIT_AS, base+memory); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	if cpu > 0 {
		if err := setrlimit(syscall.RLIMIT_CPU, cpu); err != nil {
			return fmt.Errorf("RLIMIT_CPU: %w", err)
		}
	}
	return nil
}

func setrlimit(resource int, value uint64) error {
	var current syscall.Rlimit
	if err := syscall.Getrlimit(resource, &current); err != nil {
		return err
	}
	if value > current.Max {
		value = current.Max
	}
	return syscall.Setrlimit(resource, &syscall.Rlimit{Cur: value, Max: value})
}

// addressSpace is the process's current virtual size. The Go runtime reserves a large
// amount of it at startup, so the limit has to sit on top of that.
func addressSpace() (uint64, error) {
	raw, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/self/statm")
	}
	pages, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, err
	}
	return pages * uint64(os.Getpagesize()), nil
}
