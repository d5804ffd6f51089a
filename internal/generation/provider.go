// Package generation completes free-form prompts with a hosted or local
// language model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bugbusters/bugbuster/internal/config"
	"github.com/bugbusters/bugbuster/internal/engine"
)

const (
	BackendOpenAI     = "openai"
	BackendOpenRouter = "openrouter"
	BackendBedrock    = "bedrock"
	BackendOllama     = "ollama"
)

var (
	// ErrUnsupportedBackend is returned by New for an unknown backend name.
	ErrUnsupportedBackend = errors.New("unsupported generation backend")
	// ErrEmptyCompletion is returned when a backend response carries no
	// choice at all. An empty choice is a valid, verbatim completion.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Provider maps one prompt to one completion.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the provider selected by cfg.Backend. eng is used only by the
// ollama backend and may be nil otherwise.
func New(ctx context.Context, cfg config.GenerationConfig, eng engine.Engine) (Provider, error) {
	httpClient := &http.Client{Timeout: cfg.TimeoutDuration()}
	switch strings.ToLower(cfg.Backend) {
	case BackendOpenAI, "":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient)
	case BackendOpenRouter:
		c := NewOpenRouter(cfg.APIKey, cfg.Model)
		if cfg.BaseURL != "" && cfg.BaseURL != TogetherBaseURL {
			c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		c.httpClient = httpClient
		return c, nil
	case BackendBedrock:
		return NewBedrock(ctx, cfg.Region, cfg.Model)
	case BackendOllama:
		if eng == nil {
			return nil, fmt.Errorf("ollama generation backend needs an engine")
		}
		return NewOllama(eng, cfg.Model), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}
