package pipeline

import (
	"context"
	"time"

	"github.com/bugbusters/bugbuster/internal/composer"
	"github.com/bugbusters/bugbuster/internal/retrieval"
)

type nopObserver struct{}

func (nopObserver) ObserveAnswer(string, string, time.Duration) {}
func (nopObserver) ObserveProvider(string, error)               {}
func (nopObserver) ObserveReload(int, error)                    {}

// observedEmbedder reports every embedding call to the observer.
type observedEmbedder struct {
	inner retrieval.TextEmbedder
	obs   Observer
}

func (e *observedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.inner.Embed(ctx, text)
	e.obs.ObserveProvider(ProviderEmbedding, err)
	return v, err
}

func (e *observedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := e.inner.EmbedBatch(ctx, texts)
	e.obs.ObserveProvider(ProviderEmbedding, err)
	return v, err
}

// observedGenerator reports every completion call to the observer.
type observedGenerator struct {
	inner composer.Generator
	obs   Observer
}

func (g *observedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	text, err := g.inner.Complete(ctx, prompt)
	g.obs.ObserveProvider(ProviderGeneration, err)
	return text, err
}
