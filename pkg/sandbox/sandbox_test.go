package sandbox

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/artifact"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/dataset"
	"epichat-be/pkg/llm"
	"epichat-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	ServeWorkerIfRequested()
	os.Exit(m.Run())
}

const positivityCSV = `county,setting,positivity
Adams,urban,10
Brown,urban,12
Clark,urban,11
Dane,urban,13
Eau,rural,5
Ford,rural,6
Gray,rural,7
Hall,rural,5
`

const ttestProgram = "```go\n" + `package main

import (
	"epichat/analysis"
	"gonum.org/v1/gonum/stat"
)

func Run() error {
	groups, err := analysis.Group("setting", "positivity")
	if err != nil {
		return err
	}
	t, df, p, err := analysis.TTest(groups["urban"], groups["rural"])
	if err != nil {
		return err
	}
	analysis.Report("t=%.3f df=%.1f p=%.4f", t, df, p)
	urban := stat.Mean(groups["urban"], nil)
	rural := stat.Mean(groups["rural"], nil)
	return analysis.Chart("mean positivity", []string{"urban", "rural"}, []float64{urban, rural})
}
` + "```"

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	hang    chan struct{}
}

func (s *scriptedProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	return s.Generate(ctx, history[len(history)-1].Content, opts...)
}

func (s *scriptedProvider) Generate(_ context.Context, prompt string, _ ...llm.Option) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	n := len(s.prompts)
	s.mu.Unlock()
	if s.hang != nil {
		<-s.hang
		return "", errors.New("released")
	}
	if n > len(s.replies) {
		return s.replies[len(s.replies)-1], nil
	}
	return s.replies[n-1], nil
}

func newCatalog(t *testing.T) *dataset.CSVCatalog {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "positivity.csv"), []byte(positivityCSV), 0o644))
	c, err := dataset.NewCSVCatalog(dir, 4, 0)
	require.NoError(t, err)
	return c
}

func newTool(t *testing.T, p llm.LLMProvider, cfg Config) *Tool {
	t.Helper()
	return NewTool(DefaultPolicy(), p, newCatalog(t), cfg, nil, logger.NewNopLogger())
}

func describe(t *testing.T, tool *Tool) []*dataset.Schema {
	t.Helper()
	s, err := tool.catalog.Describe(context.Background(), "positivity.csv")
	require.NoError(t, err)
	return []*dataset.Schema{s}
}

func TestPolicyIsTheOnlyDeclaration(t *testing.T) {
	p := DefaultPolicy()
	tool := NewTool(p, nil, nil, Config{}, nil, nil)

	exports := p.Exports(newRun(nil, 0))
	for _, pkg := range p.Packages {
		symbols, ok := exports[pkg.Path+"/"+pkg.Name()]
		require.True(t, ok, pkg.Path)
		assert.Len(t, symbols, len(pkg.Symbols()), pkg.Path)
	}

	prompt := NewGenerator(nil, p).prompt("compare groups", nil, "")
	assert.Contains(t, prompt, `"gonum.org/v1/gonum/stat"`)
	assert.Contains(t, prompt, "LinearRegression")
	assert.Contains(t, prompt, "TTest")
	assert.Contains(t, prompt, "filesystem: os")

	d := tool.Descriptor()
	assert.Equal(t, p.Operations(), d.Operations)
	assert.Contains(t, d.Operations, "ttest")
	assert.Contains(t, d.Description, "ttest")
}

func TestCheckNamesDeniedClass(t *testing.T) {
	p := DefaultPolicy()
	program := func(imp string) string {
		return "package main\n\nimport _x " + `"` + imp + `"` + "\n\nvar _ = _x.X\n\nfunc Run() error { return nil }\n"
	}

	cases := map[string]string{
		"os":             "filesystem",
		"path/filepath":  "filesystem",
		"net/http":       "network",
		"os/exec":        "process",
		"unsafe":         "unsafe memory",
		"reflect":        "reflection",
		"encoding/json":  UnlistedClass,
		"github.com/x/y": UnlistedClass,
	}
	for imp, class := range cases {
		err := p.Check(program(imp))
		var v *ViolationError
		require.ErrorAs(t, err, &v, imp)
		assert.ErrorIs(t, err, ErrViolation)
		assert.Equal(t, class, v.Class.Name, imp)
	}

	err := p.Check("package main\n\nfunc Run() error {\n\tgo func() {}()\n\treturn nil\n}\n")
	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "process", v.Class.Name)

	assert.ErrorIs(t, p.Check("package main\n\nfunc Main() {}\n"), ErrInvalidProgram)
	assert.ErrorIs(t, p.Check("package main\n\nfunc Run() {}\n"), ErrInvalidProgram)
	assert.ErrorIs(t, p.Check("package analysis\n\nfunc Run() error { return nil }\n"), ErrInvalidProgram)
	assert.ErrorIs(t, p.Check("this is not go"), ErrInvalidProgram)
	assert.NoError(t, p.Check(extractCode(ttestProgram)))
}

func TestWelchTTest(t *testing.T) {
	tstat, df, p, err := WelchTTest([]float64{1, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10})
	require.NoError(t, err)
	assert.InDelta(t, -5.0, tstat, 1e-9)
	assert.InDelta(t, 8.0, df, 1e-9)
	assert.Greater(t, p, 0.0005)
	assert.Less(t, p, 0.002)

	_, _, _, err = WelchTTest([]float64{1}, []float64{2, 3})
	assert.Error(t, err)
	_, _, _, err = WelchTTest([]float64{1, 1}, []float64{2, 2})
	assert.Error(t, err)
}

func TestBridgeHelpers(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, []string{"b", "a"}, TopN(map[string]float64{"a": 1, "b": 2, "c": 0}, 2))

	r := newRun(nil, 16)
	_, err := r.Numeric("x")
	assert.ErrorIs(t, err, errNoData)

	r.Report("%s", "0123456789abcdefXYZ")
	assert.Equal(t, "0123456789abcdef\n[output truncated]", r.output())

	assert.Error(t, r.Chart("bad", []string{"a"}, nil))
	for i := 0; i < maxArtifacts; i++ {
		require.NoError(t, r.Table("t", []string{"a"}, [][]string{{"1"}}))
	}
	assert.Error(t, r.Table("t", []string{"a"}, nil))
}

func TestExecutorRunsAllowListedStatistics(t *testing.T) {
	tool := newTool(t, nil, Config{})
	frame, err := tool.catalog.Load(context.Background(), "positivity.csv")
	require.NoError(t, err)

	exec, err := tool.executor.Run(context.Background(), extractCode(ttestProgram), frame)
	require.NoError(t, err)
	assert.Contains(t, exec.Output, "t=")
	assert.Contains(t, exec.Output, "p=0.0")
	require.Len(t, exec.Artifacts, 1)
	assert.Equal(t, artifact.KindChart, exec.Artifacts[0].Kind)
}

func TestExecuteStatisticalRequestSucceeds(t *testing.T) {
	p := &scriptedProvider{replies: []string{ttestProgram}}
	tool := newTool(t, p, Config{Timeout: 5 * time.Second})

	res := tool.Execute(context.Background(), "is positivity different between urban and rural counties?", describe(t, tool), "positivity.csv")

	require.Equal(t, StatusSuccess, res.Status, res.Output)
	assert.Empty(t, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Output, "df=")
	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "positivity (numeric, 7 distinct)")
	assert.Contains(t, p.prompts[0], "urban and rural")
}

func TestExecuteReportsViolationClass(t *testing.T) {
	p := &scriptedProvider{replies: []string{"```go\npackage main\n\nimport \"os\"\n\nfunc Run() error {\n\t_, err := os.ReadFile(\"/etc/passwd\")\n\treturn err\n}\n```"}}
	tool := newTool(t, p, Config{})

	res := tool.Execute(context.Background(), "read the system password file", nil, "")

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindViolation, res.ErrorKind)
	assert.Equal(t, "filesystem", res.Violation)
	assert.Contains(t, res.Output, "filesystem")
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteRetriesInvalidProgramWithFeedback(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		"```go\npackage main\n\nfunc Run() error {\n\treturn missingHelper()\n}\n```",
		ttestProgram,
	}}
	tool := newTool(t, p, Config{Timeout: 5 * time.Second})

	res := tool.Execute(context.Background(), "compare urban and rural", describe(t, tool), "positivity.csv")

	assert.Equal(t, StatusSuccess, res.Status, res.Output)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, p.prompts, 2)
	assert.Contains(t, p.prompts[1], "<previous_attempt_error>")
}

func TestExecuteRuntimeErrorIsClassified(t *testing.T) {
	p := &scriptedProvider{replies: []string{"```go\npackage main\n\nimport \"epichat/analysis\"\n\nfunc Run() error {\n\t_, err := analysis.Numeric(\"deaths\")\n\treturn err\n}\n```"}}
	tool := newTool(t, p, Config{Attempts: 1})

	res := tool.Execute(context.Background(), "average deaths", describe(t, tool), "positivity.csv")

	assert.Equal(t, KindRuntime, res.ErrorKind)
	assert.Contains(t, res.Output, `no numeric column "deaths"`)
}

func TestWorkerReportsReturnedError(t *testing.T) {
	var in, out bytes.Buffer
	require.NoError(t, gob.NewEncoder(&in).Encode(&workerRequest{
		Code:     "package main\n\nimport \"fmt\"\n\nfunc Run() error {\n\tfmt.Println(\"partial\")\n\treturn fmt.Errorf(\"boom\")\n}\n",
		Packages: DefaultPolicy().paths(),
	}))

	require.Equal(t, 0, ServeWorker(&in, &out))

	var resp workerResponse
	require.NoError(t, gob.NewDecoder(&out).Decode(&resp))
	assert.Equal(t, failRuntime, resp.Failure)
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, "partial", resp.Output)
}

func TestWorkerRejectsWrongEntrySignature(t *testing.T) {
	resp := interpret(DefaultPolicy(), &workerRequest{Code: "package main\n\nfunc Run() int { return 1 }\n"})
	assert.Equal(t, failInvalid, resp.Failure)
	assert.Contains(t, resp.Error, "func() error")
}

func TestExecuteReturnedErrorIsRuntime(t *testing.T) {
	p := &scriptedProvider{replies: []string{"```go\npackage main\n\nimport \"fmt\"\n\nfunc Run() error {\n\treturn fmt.Errorf(\"boom\")\n}\n```"}}
	tool := newTool(t, p, Config{Attempts: 1, Timeout: 5 * time.Second})

	res := tool.Execute(context.Background(), "anything", nil, "")

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindRuntime, res.ErrorKind)
	assert.Contains(t, res.Output, "boom")
}

func TestExecuteMemoryLimitIsClassified(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("hard memory limits are only applied on linux")
	}
	hungry := "```go\npackage main\n\nfunc Run() error {\n\tbuf := make([]float64, 1<<40)\n\tbuf[0] = 1\n\treturn nil\n}\n```"
	p := &scriptedProvider{replies: []string{hungry, ttestProgram}}
	tool := newTool(t, p, Config{Attempts: 1, Timeout: 10 * time.Second, MaxMemory: 256 << 20})

	res := tool.Execute(context.Background(), "allocate everything", nil, "")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindResource, res.ErrorKind)
	assert.Contains(t, res.Output, "memory")

	// the host keeps serving
	res = tool.Execute(context.Background(), "compare settings", describe(t, tool), "positivity.csv")
	assert.Equal(t, StatusSuccess, res.Status, res.Output)
}

func TestExecuteTimesOutWithinBound(t *testing.T) {
	t.Run("generator never returns", func(t *testing.T) {
		p := &scriptedProvider{hang: make(chan struct{})}
		t.Cleanup(func() { close(p.hang) })
		tool := newTool(t, p, Config{Timeout: 100 * time.Millisecond})

		start := time.Now()
		res := tool.Execute(context.Background(), "anything", nil, "")
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, KindTimeout, res.ErrorKind)
		assert.Equal(t, TimeoutReply, res.Output)
	})

	t.Run("program never returns", func(t *testing.T) {
		p := &scriptedProvider{replies: []string{"```go\npackage main\n\nfunc Run() error {\n\tn := 0\n\tfor {\n\t\tif n < 0 {\n\t\t\treturn nil\n\t\t}\n\t\tn++\n\t}\n}\n```"}}
		tool := newTool(t, p, Config{Timeout: 200 * time.Millisecond})

		start := time.Now()
		res := tool.Execute(context.Background(), "loop", nil, "")
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, KindTimeout, res.ErrorKind)
	})
}

func TestBudgetLeavesOverhead(t *testing.T) {
	tool := newTool(t, nil, Config{Timeout: 10 * time.Second, Overhead: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.LessOrEqual(t, tool.Budget(ctx), 800*time.Millisecond)
	assert.Equal(t, 10*time.Second, tool.Budget(context.Background()))

	expired, cancelExpired := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelExpired()
	res := tool.Execute(expired, "anything", nil, "")
	assert.Equal(t, KindTimeout, res.ErrorKind)
}

func TestExecuteWithoutGenerator(t *testing.T) {
	res := newTool(t, nil, Config{}).Execute(context.Background(), "mean positivity", nil, "")
	assert.Equal(t, KindGeneration, res.ErrorKind)
	assert.Contains(t, res.Output, "no language model")
}

func TestHandleUsesLatestAttachedData(t *testing.T) {
	p := &scriptedProvider{replies: []string{ttestProgram}}
	tool := newTool(t, p, Config{Timeout: 5 * time.Second})

	state := store.NewState("s-1", time.Now())
	state.AttachData("missing.csv")
	state.AttachData("positivity.csv")

	res, err := tool.Handle(context.Background(), &capability.Request{Message: "compare settings", State: state, At: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "t=")
	assert.Len(t, res.Artifacts, 1)
}

func TestRoutingSelfDescription(t *testing.T) {
	registry := capability.NewRegistry()
	registry.MustRegister(stubDescribe{})
	registry.SetFallback(newTool(t, nil, Config{}))

	supporting := registry.Supporting("ttest")
	require.Len(t, supporting, 1)
	assert.Equal(t, ToolName, supporting[0].Name)
	assert.Empty(t, registry.Supporting("filesystem"))
}

type stubDescribe struct{}

func (stubDescribe) Descriptor() capability.Descriptor {
	return capability.Descriptor{Name: "describe_data", Intent: "describe_data", Operations: []string{"schema"}}
}

func (stubDescribe) Handle(context.Context, *capability.Request) (*capability.Result, error) {
	return &capability.Result{}, nil
}
