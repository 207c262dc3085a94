package sandbox

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"epichat-be/pkg/artifact"
	"epichat-be/pkg/dataset"

	"github.com/traefik/yaegi/interp"
)

// WorkerEnv marks a process started to interpret one program
const WorkerEnv = "EPICHAT_SANDBOX_WORKER"

const workerPrefix = "sandbox worker:"

type failure string

const (
	failInvalid failure = "invalid"
	failRuntime failure = "runtime"
)

// workerRequest and workerResponse cross the worker's stdin and stdout. Gob keeps the NaN
// cells that mark missing values.
type workerRequest struct {
	Code        string
	Packages    []string
	Frame       *dataset.Frame
	MaxOutput   int
	MemoryBytes uint64
	CPUSeconds  uint64
}

type workerResponse struct {
	Output    string
	Artifacts []artifact.Artifact
	Failure   failure
	Error     string
}

// ServeWorkerIfRequested turns the process into a sandbox worker when it was started by
// an Executor, and exits once the program has run. Every binary that runs the execution
// tool calls it first thing in main, and so does TestMain in packages that do.
func ServeWorkerIfRequested() {
	if os.Getenv(WorkerEnv) == "" {
		return
	}
	os.Exit(ServeWorker(os.Stdin, os.Stdout))
}

// ServeWorker reads one request, applies its limits to the current process, runs the
// program and writes the response. It returns the process exit code.
func ServeWorker(in io.Reader, out io.Writer) int {
	var req workerRequest
	if err := gob.NewDecoder(in).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "%s decode request: %v\n", workerPrefix, err)
		return 2
	}
	if err := applyLimits(req.MemoryBytes, req.CPUSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "%s apply limits: %v\n", workerPrefix, err)
		return 2
	}

	resp := interpret(DefaultPolicy().restrict(req.Packages), &req)
	if err := gob.NewEncoder(out).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "%s encode response: %v\n", workerPrefix, err)
		return 2
	}
	return 0
}

func interpret(policy *Policy, req *workerRequest) *workerResponse {
	r := newRun(req.Frame, req.MaxOutput)
	i := interp.New(interp.Options{
		GoPath: "/nonexistent",
		Stdout: r,
		Stderr: io.Discard,
		Env:    []string{},
	})
	if err := i.Use(policy.Exports(r)); err != nil {
		return &workerResponse{Failure: failInvalid, Error: "load sandbox symbols: " + err.Error()}
	}

	if _, err := i.Eval(req.Code); err != nil {
		return &workerResponse{Failure: failInvalid, Error: err.Error()}
	}
	v, err := i.Eval("main.Run")
	if err != nil {
		return &workerResponse{Failure: failInvalid, Error: "Run not found: " + err.Error()}
	}
	entry, ok := v.Interface().(func() error)
	if !ok {
		return &workerResponse{Failure: failInvalid, Error: "Run must have the signature func() error"}
	}

	runErr := call(entry)
	resp := &workerResponse{Output: r.output(), Artifacts: r.produced()}
	if runErr != nil {
		resp.Failure = failRuntime
		resp.Error = runErr.Error()
	}
	return resp
}

func call(entry func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return entry()
}
