package sandbox

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
)

var (
	// ErrViolation marks generated code that tried a disallowed operation
	ErrViolation = errors.New("sandbox violation")

	// ErrInvalidProgram marks generated code that is not a runnable analysis program
	ErrInvalidProgram = errors.New("invalid analysis program")
)

// ViolationError names the denied class a program fell into
type ViolationError struct {
	Class  DeniedClass
	Detail string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrViolation, e.Class.Name, e.Detail)
}

func (e *ViolationError) Is(target error) bool {
	return target == ErrViolation
}

// Check parses a program and rejects it before it reaches the interpreter. Imports are
// checked against the same Policy that builds the symbol table.
func (p *Policy) Check(code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "analysis.go", code, parser.AllErrors)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	if file.Name.Name != "main" {
		return fmt.Errorf("%w: package %s, want main", ErrInvalidProgram, file.Name.Name)
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("%w: import %s", ErrInvalidProgram, imp.Path.Value)
		}
		if imp.Name != nil && (imp.Name.Name == "." || imp.Name.Name == "_") {
			return &ViolationError{Class: p.Classify(path), Detail: fmt.Sprintf("%s import of %q", imp.Name.Name, path)}
		}
		if _, ok := p.Allowed(path); !ok {
			return &ViolationError{Class: p.Classify(path), Detail: fmt.Sprintf("import %q", path)}
		}
	}

	var (
		violation error
		hasRun    bool
	)
	ast.Inspect(file, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.GoStmt:
			violation = &ViolationError{Class: p.Class("process"), Detail: fmt.Sprintf("go statement at line %d", fset.Position(node.Pos()).Line)}
		case *ast.FuncDecl:
			if node.Recv == nil && node.Name.Name == "Run" && isRunSignature(node.Type) {
				hasRun = true
			}
		}
		return true
	})
	if violation != nil {
		return violation
	}
	if !hasRun {
		return fmt.Errorf("%w: missing func Run() error", ErrInvalidProgram)
	}
	return nil
}

func isRunSignature(ft *ast.FuncType) bool {
	if ft.Params != nil && len(ft.Params.List) > 0 {
		return false
	}
	if ft.Results == nil || len(ft.Results.List) != 1 || len(ft.Results.List[0].Names) > 1 {
		return false
	}
	ident, ok := ft.Results.List[0].Type.(*ast.Ident)
	return ok && ident.Name == "error"
}
