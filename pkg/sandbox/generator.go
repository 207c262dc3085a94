package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"epichat-be/pkg/llm"
)

// ErrNoGenerator is returned when no language model is configured to write programs
var ErrNoGenerator = errors.New("no code generator configured")

// Generator asks a language model for an analysis program. Its prompt is rendered from
// the same Policy the executor enforces.
type Generator struct {
	provider llm.LLMProvider
	policy   *Policy
}

func NewGenerator(provider llm.LLMProvider, policy *Policy) *Generator {
	return &Generator{provider: provider, policy: policy}
}

// Generate returns Go source for the request
func (g *Generator) Generate(ctx context.Context, request string, schemas []string, feedback string) (string, error) {
	if g.provider == nil {
		return "", ErrNoGenerator
	}
	raw, err := g.provider.Generate(ctx, g.prompt(request, schemas, feedback), llm.WithTemperature(0.0), llm.WithMaxTokens(1500))
	if err != nil {
		return "", fmt.Errorf("generate analysis: %w", err)
	}
	code := extractCode(raw)
	if code == "" {
		return "", fmt.Errorf("%w: model reply carried no Go source", ErrInvalidProgram)
	}
	return code, nil
}

func (g *Generator) prompt(request string, schemas []string, feedback string) string {
	var prompt strings.Builder

	prompt.WriteString("<system>\n")
	prompt.WriteString("You write one short Go program that answers a public-health data question.\n")
	prompt.WriteString("</system>\n\n")

	prompt.WriteString("<rules>\n")
	prompt.WriteString("- Write `package main` with `func Run() error`. Do not write func main.\n")
	prompt.WriteString("- Load data only through the analysis package; there is no filesystem or network.\n")
	prompt.WriteString("- Write the answer with analysis.Report (fmt.Sprintf-style). Keep it under 20 lines.\n")
	prompt.WriteString("- Emit at most one analysis.Chart or analysis.Table when a picture helps.\n")
	prompt.WriteString("- Return errors instead of panicking.\n")
	prompt.WriteString("</rules>\n\n")

	prompt.WriteString("<allow_list>\n")
	prompt.WriteString(g.policy.Describe())
	prompt.WriteString("</allow_list>\n\n")

	prompt.WriteString("<analysis_api>\n")
	prompt.WriteString("analysis.Columns() []string\n")
	prompt.WriteString("analysis.Rows() int\n")
	prompt.WriteString("analysis.Numeric(column string) ([]float64, error)   // missing cells dropped\n")
	prompt.WriteString("analysis.Text(column string) ([]string, error)\n")
	prompt.WriteString("analysis.Group(key, value string) (map[string][]float64, error)\n")
	prompt.WriteString("analysis.Count(column string) (map[string]int, error)\n")
	prompt.WriteString("analysis.Median(xs []float64) float64\n")
	prompt.WriteString("analysis.Sorted(xs []float64) []float64\n")
	prompt.WriteString("analysis.TopN(m map[string]float64, n int) []string\n")
	prompt.WriteString("analysis.TTest(a, b []float64) (t, df, p float64, err error)   // Welch, two-sided\n")
	prompt.WriteString("analysis.Report(format string, args ...interface{})\n")
	prompt.WriteString("analysis.Chart(title string, labels []string, values []float64) error\n")
	prompt.WriteString("analysis.Table(title string, header []string, rows [][]string) error\n")
	prompt.WriteString("</analysis_api>\n\n")

	prompt.WriteString("<data>\n")
	if len(schemas) == 0 {
		prompt.WriteString("No dataset is attached. Explain that data is needed using analysis.Report.\n")
	}
	for _, s := range schemas {
		prompt.WriteString(s + "\n")
	}
	prompt.WriteString("</data>\n\n")

	if feedback != "" {
		prompt.WriteString("<previous_attempt_error>\n")
		prompt.WriteString(feedback)
		prompt.WriteString("\n</previous_attempt_error>\n\n")
	}

	prompt.WriteString("<request>\n")
	prompt.WriteString(request)
	prompt.WriteString("\n</request>\n\n")

	prompt.WriteString("Respond with ONLY the Go source inside a ```go code block.")
	return prompt.String()
}

// extractCode pulls the program out of a fenced block, or takes the reply as-is when it
// already starts with a package clause.
func extractCode(reply string) string {
	if start := strings.Index(reply, "```go"); start != -1 {
		body := reply[start+len("```go"):]
		if end := strings.Index(body, "```"); end != -1 {
			return strings.TrimSpace(body[:end])
		}
		return strings.TrimSpace(body)
	}
	if start := strings.Index(reply, "```"); start != -1 {
		body := reply[start+3:]
		if end := strings.Index(body, "```"); end != -1 {
			return strings.TrimSpace(body[:end])
		}
	}
	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "package ") {
		return trimmed
	}
	return ""
}
