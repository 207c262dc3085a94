package sandbox

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"epichat-be/pkg/artifact"
	"epichat-be/pkg/dataset"
)

var (
	// ErrRuntime marks a program that was accepted but failed while running
	ErrRuntime = errors.New("analysis failed while running")

	// ErrResourceLimit marks a worker that was stopped by its memory or CPU limit
	ErrResourceLimit = errors.New("analysis exceeded the sandbox resource limits")
)

// DefaultMemoryBytes is the heap a worker may grow beyond its startup footprint
const DefaultMemoryBytes = 1 << 30

// Execution is what one interpreted program produced
type Execution struct {
	Output    string
	Artifacts []artifact.Artifact
}

// Limits bounds one worker process
type Limits struct {
	MaxOutput int
	// MemoryBytes caps address space growth in the worker. Zero means DefaultMemoryBytes.
	MemoryBytes uint64
	// Command starts a worker. Empty means re-executing the running binary, which must
	// call ServeWorkerIfRequested before anything else.
	Command []string
}

// Executor runs each checked program in a fresh worker process. The worker's
// interpreter only resolves the symbols the Policy exports, its environment is empty and
// it is killed when ctx is done.
type Executor struct {
	policy *Policy
	limits Limits
}

func NewExecutor(policy *Policy, limits Limits) *Executor {
	if limits.MemoryBytes == 0 {
		limits.MemoryBytes = DefaultMemoryBytes
	}
	return &Executor{policy: policy, limits: limits}
}

// Run checks a program and interprets it against the given frame in a worker. A nil
// frame means no data is attached.
func (e *Executor) Run(ctx context.Context, code string, frame *dataset.Frame) (*Execution, error) {
	if err := e.policy.Check(code); err != nil {
		return nil, err
	}
	command, err := e.command()
	if err != nil {
		return nil, err
	}

	req := workerRequest{
		Code:        code,
		Packages:    e.policy.paths(),
		Frame:       frame,
		MaxOutput:   e.limits.MaxOutput,
		MemoryBytes: e.limits.MemoryBytes,
		CPUSeconds:  cpuSeconds(ctx),
	}
	var stdin bytes.Buffer
	if err := gob.NewEncoder(&stdin).Encode(&req); err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = []string{WorkerEnv + "=1", "GOTRACEBACK=none"}
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	isolate(cmd)

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, workerFailure(stderr.String(), exitErr)
		}
		return nil, fmt.Errorf("start sandbox worker: %w", runErr)
	}

	var resp workerResponse
	if err := gob.NewDecoder(&stdout).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: unreadable worker reply: %v", ErrRuntime, err)
	}
	result := &Execution{Output: resp.Output, Artifacts: resp.Artifacts}
	switch resp.Failure {
	case failInvalid:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProgram, resp.Error)
	case failRuntime:
		return result, fmt.Errorf("%w: %s", ErrRuntime, resp.Error)
	}
	return result, nil
}

func (e *Executor) command() ([]string, error) {
	if len(e.limits.Command) > 0 {
		return e.limits.Command, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate sandbox worker: %w", err)
	}
	return []string{self}, nil
}

// cpuSeconds rounds the time left on ctx up to whole seconds, plus one of slack. The
// parent kills the worker on the deadline; the CPU limit only backs that up.
func cpuSeconds(ctx context.Context) uint64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	remaining := time.Until(deadline).Seconds()
	if remaining <= 0 {
		return 1
	}
	return uint64(math.Ceil(remaining)) + 1
}

// workerFailure turns an abnormal worker exit into an error. Anything the worker did not
// report itself was the runtime or the kernel enforcing a limit.
func workerFailure(stderr string, exitErr *exec.ExitError) error {
	msg := firstLine(stderr)
	if strings.HasPrefix(msg, workerPrefix) {
		return errors.New(msg)
	}
	if msg == "" {
		msg = exitErr.String()
	}
	return fmt.Errorf("%w: %s", ErrResourceLimit, msg)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return ""
}
