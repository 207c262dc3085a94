package openai

import (
	"context"
	"fmt"
	"strings"

	"epichat-be/pkg/llm"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// Provider talks to the OpenAI Responses API
type Provider struct {
	client openai.Client
	model  string
}

var _ llm.LLMProvider = &Provider{}

func NewProvider(apiKey, model string, opts ...option.RequestOption) *Provider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Provider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (p *Provider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	opts := llm.Apply(llm.Options{Model: p.model, MaxTokens: 1024, Temperature: -1}, options...)
	system, rest := llm.SplitSystem(history)

	// The conversation is flattened into a single input; callers here send one prompt.
	var input strings.Builder
	for i, m := range rest {
		if i > 0 {
			input.WriteString("\n\n")
		}
		if len(rest) > 1 {
			input.WriteString(m.Role + ": ")
		}
		input.WriteString(m.Content)
	}

	params := responses.ResponseNewParams{
		Model:           opts.Model,
		MaxOutputTokens: openai.Int(int64(opts.MaxTokens)),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(input.String()),
		},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if opts.Temperature >= 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	text := resp.OutputText()
	if text == "" {
		return "", fmt.Errorf("openai: empty response")
	}
	return text, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}
