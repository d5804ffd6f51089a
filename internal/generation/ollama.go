package generation

import (
	"context"
	"fmt"

	"github.com/bugbusters/bugbuster/internal/engine"
)

// Ollama completes prompts with a local model through the inference engine.
type Ollama struct {
	engine engine.Engine
	model  string
}

func NewOllama(e engine.Engine, model string) *Ollama {
	return &Ollama{engine: e, model: model}
}

func (p *Ollama) Name() string  { return BackendOllama }
func (p *Ollama) Model() string { return p.model }

func (p *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	text, err := p.engine.Chat(ctx, p.model, []engine.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return text, nil
}
