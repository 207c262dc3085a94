// Package sandbox generates and runs short analysis programs in an interpreter that can
// only see the packages its Policy allows.
package sandbox

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Package is one import the generated code may use
type Package struct {
	Path string
	Doc  string
	// Operations are the analysis classes this package makes possible, as advertised for routing
	Operations []string

	exports func(r *run) map[string]reflect.Value
	symbols []string
}

// Name is the package identifier the code refers to
func (p Package) Name() string {
	return p.Path[strings.LastIndex(p.Path, "/")+1:]
}

// Symbols lists the identifiers the interpreter will resolve for this package
func (p Package) Symbols() []string {
	return p.symbols
}

// DeniedClass is a named category of operations the sandbox refuses
type DeniedClass struct {
	Name     string
	Packages []string
	Reason   string
}

// Policy is the single allow-list shared by the code generator, the static check, the
// interpreter symbol table and the tool's routing description.
type Policy struct {
	Packages []Package
	Denied   []DeniedClass
}

// UnlistedClass names imports that are neither allowed nor in a denied class
const UnlistedClass = "unlisted package"

// DefaultPolicy allows the formatting and math stdlib, gonum stat and floats, and the
// analysis bridge to the session's data.
func DefaultPolicy() *Policy {
	p := &Policy{
		Packages: []Package{
			stdlibPackage("fmt", "formatting with Sprintf and Println", nil),
			stdlibPackage("math", "elementary functions and constants", []string{"log_transform", "rounding"}),
			stdlibPackage("sort", "sorting slices", []string{"ranking"}),
			stdlibPackage("strings", "string manipulation", nil),
			stdlibPackage("strconv", "number parsing and formatting", nil),
			{
				Path:       "gonum.org/v1/gonum/stat",
				Doc:        "descriptive statistics, correlation and simple linear regression",
				Operations: []string{"mean", "median", "variance", "stddev", "quantile", "correlation", "covariance", "linear_regression", "skewness", "kurtosis", "mode"},
				exports:    func(*run) map[string]reflect.Value { return statExports() },
			},
			{
				Path:       "gonum.org/v1/gonum/floats",
				Doc:        "slice arithmetic and extrema",
				Operations: []string{"sum", "min", "max", "cumulative_sum"},
				exports:    func(*run) map[string]reflect.Value { return floatsExports() },
			},
			{
				Path:       bridgePath,
				Doc:        "access to the attached dataset, grouping, Welch t-test, report output, charts and tables",
				Operations: []string{"ttest", "group_by", "count", "top_n", "chart", "table"},
				exports:    bridgeExports,
			},
		},
		Denied: []DeniedClass{
			{Name: "filesystem", Packages: []string{"os", "io/ioutil", "io/fs", "path/filepath", "embed", "archive", "compress"}, Reason: "reading or writing files"},
			{Name: "network", Packages: []string{"net", "crypto/tls", "net/http", "net/rpc", "net/smtp"}, Reason: "opening network connections"},
			{Name: "process", Packages: []string{"os/exec", "os/signal", "syscall", "runtime", "plugin", "sync", "time"}, Reason: "starting processes, goroutines or timers"},
			{Name: "unsafe memory", Packages: []string{"unsafe", "C", "runtime/cgo"}, Reason: "raw memory access"},
			{Name: "reflection", Packages: []string{"reflect", "github.com/traefik/yaegi"}, Reason: "inspecting or changing the interpreter"},
		},
	}
	for i := range p.Packages {
		p.Packages[i].symbols = symbolNames(p.Packages[i].exports(newRun(nil, 0)))
	}
	return p
}

func stdlibPackage(path, doc string, ops []string) Package {
	key := path + "/" + path[strings.LastIndex(path, "/")+1:]
	return Package{
		Path:       path,
		Doc:        doc,
		Operations: ops,
		exports: func(*run) map[string]reflect.Value {
			// Copied because the interpreter patches print functions in place.
			src := stdlib.Symbols[key]
			out := make(map[string]reflect.Value, len(src))
			for k, v := range src {
				out[k] = v
			}
			return out
		},
	}
}

func symbolNames(m map[string]reflect.Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Allowed returns the package declaration for an import path
func (p *Policy) Allowed(path string) (Package, bool) {
	for _, pkg := range p.Packages {
		if pkg.Path == path {
			return pkg, true
		}
	}
	return Package{}, false
}

// Classify names the denied class an import path falls into. The longest matching
// prefix wins, so os/exec is a process import rather than a filesystem one.
func (p *Policy) Classify(path string) DeniedClass {
	var (
		best    DeniedClass
		bestLen int
	)
	for _, c := range p.Denied {
		for _, prefix := range c.Packages {
			if (path == prefix || strings.HasPrefix(path, prefix+"/")) && len(prefix) > bestLen {
				best, bestLen = c, len(prefix)
			}
		}
	}
	if bestLen == 0 {
		return DeniedClass{Name: UnlistedClass, Reason: "using packages outside the analysis allow-list"}
	}
	return best
}

func (p *Policy) paths() []string {
	out := make([]string, 0, len(p.Packages))
	for _, pkg := range p.Packages {
		out = append(out, pkg.Path)
	}
	return out
}

// restrict keeps only the listed packages. A worker rebuilds its caller's policy this way.
func (p *Policy) restrict(paths []string) *Policy {
	keep := make(map[string]bool, len(paths))
	for _, path := range paths {
		keep[path] = true
	}
	out := &Policy{Denied: p.Denied}
	for _, pkg := range p.Packages {
		if keep[pkg.Path] {
			out.Packages = append(out.Packages, pkg)
		}
	}
	return out
}

// Class returns a denied class by name
func (p *Policy) Class(name string) DeniedClass {
	for _, c := range p.Denied {
		if c.Name == name {
			return c
		}
	}
	return DeniedClass{Name: name}
}

// Operations is every analysis class the allowed packages make possible
func (p *Policy) Operations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pkg := range p.Packages {
		for _, op := range pkg.Operations {
			if !seen[op] {
				seen[op] = true
				out = append(out, op)
			}
		}
	}
	return out
}

// Exports builds the interpreter symbol table for one run
func (p *Policy) Exports(r *run) interp.Exports {
	out := make(interp.Exports, len(p.Packages))
	for _, pkg := range p.Packages {
		out[pkg.Path+"/"+pkg.Name()] = pkg.exports(r)
	}
	return out
}

// Summary is a one-line description of what the sandbox can run
func (p *Policy) Summary() string {
	return fmt.Sprintf("Supported analyses: %s.", strings.Join(p.Operations(), ", "))
}

// Describe renders the allow-list for the code generator. Stdlib packages are listed by
// name only; library packages list every resolvable identifier.
func (p *Policy) Describe() string {
	var b strings.Builder
	b.WriteString("ALLOWED IMPORTS:\n")
	for _, pkg := range p.Packages {
		fmt.Fprintf(&b, "- %q: %s\n", pkg.Path, pkg.Doc)
		if !strings.Contains(pkg.Path, ".") && pkg.Path != bridgePath {
			continue
		}
		fmt.Fprintf(&b, "  identifiers: %s\n", strings.Join(pkg.symbols, ", "))
	}
	b.WriteString("FORBIDDEN (the program is rejected if it imports these):\n")
	for _, c := range p.Denied {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, strings.Join(c.Packages, ", "))
	}
	b.WriteString("- any package not listed under ALLOWED IMPORTS\n")
	b.WriteString("- go statements\n")
	return b.String()
}
