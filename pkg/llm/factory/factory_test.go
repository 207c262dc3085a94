package factory

import (
	"testing"

	"epichat-be/pkg/llm/anthropic"
	"epichat-be/pkg/llm/huggingface"
	"epichat-be/pkg/llm/ollama"
	"epichat-be/pkg/llm/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLMProvider(t *testing.T) {
	p, err := NewLLMProvider(Config{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewLLMProvider(Config{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &ollama.OllamaProvider{}, p)
	assert.Equal(t, "http://localhost:11434", p.(*ollama.OllamaProvider).BaseURL)

	p, err = NewLLMProvider(Config{Provider: "huggingface", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &huggingface.HuggingFaceProvider{}, p)

	p, err = NewLLMProvider(Config{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Provider{}, p)

	p, err = NewLLMProvider(Config{Provider: "openai", Model: "gpt-4.1-mini", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &openai.Provider{}, p)

	_, err = NewLLMProvider(Config{Provider: "anthropic"})
	assert.Error(t, err)
	_, err = NewLLMProvider(Config{Provider: "gemini"})
	assert.Error(t, err)
}
