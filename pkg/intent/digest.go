package intent

import (
	"fmt"
	"strings"

	"epichat-be/pkg/store"

	"github.com/tiktoken-go/tokenizer"
)

// Digester builds the bounded context summary sent with model-path prompts
type Digester struct {
	codec  tokenizer.Codec
	budget int
}

// NewDigester creates a digester that keeps summaries within budget tokens.
// All providers are approximated with the GPT-4 encoding.
func NewDigester(budget int) (*Digester, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	if budget <= 0 {
		budget = 512
	}
	return &Digester{codec: codec, budget: budget}, nil
}

// Count returns the token count of text, falling back to a character estimate
func (d *Digester) Count(text string) int {
	if d == nil || d.codec == nil {
		return len(text) / 4
	}
	n, err := d.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Budget is the token ceiling of a digest
func (d *Digester) Budget() int {
	if d == nil {
		return 512
	}
	return d.budget
}

// Digest summarises facts and the most recent history, newest turns first until the
// token budget is spent. Facts are never dropped in favour of history.
func (d *Digester) Digest(facts []store.Fact, history []store.Message) string {
	var b strings.Builder
	used := 0

	if len(facts) > 0 {
		b.WriteString("Facts:\n")
		for _, f := range facts {
			line := fmt.Sprintf("- %s: %s\n", f.Key, f.Value)
			cost := d.Count(line)
			if used+cost > d.Budget() {
				break
			}
			b.WriteString(line)
			used += cost
		}
	}

	var turns []string
	for i := len(history) - 1; i >= 0; i-- {
		content := history[i].Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		line := fmt.Sprintf("%s: %s\n", history[i].Role, content)
		cost := d.Count(line)
		if used+cost > d.Budget() {
			break
		}
		turns = append(turns, line)
		used += cost
	}
	if len(turns) > 0 {
		b.WriteString("Recent turns:\n")
		for i := len(turns) - 1; i >= 0; i-- {
			b.WriteString(turns[i])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
