package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// TogetherBaseURL is the default OpenAI-compatible endpoint.
const TogetherBaseURL = "https://api.together.xyz/v1"

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI completes prompts against any OpenAI-compatible chat-completions
// endpoint, Together AI by default.
type OpenAI struct {
	completions chatCompletions
	model       string
}

// NewOpenAI creates the client. An empty baseURL selects Together AI.
func NewOpenAI(apiKey, baseURL, model string, httpClient *http.Client, extra ...option.RequestOption) (*OpenAI, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}
	if model == "" {
		return nil, errors.New("openai: model required")
	}
	if baseURL == "" {
		baseURL = TogetherBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	opts = append(opts, extra...)
	client := openai.NewClient(opts...)
	return &OpenAI{completions: &client.Chat.Completions, model: model}, nil
}

func (p *OpenAI) Name() string  { return BackendOpenAI }
func (p *OpenAI) Model() string { return p.model }

func (p *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := p.completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices: %w", BackendOpenAI, ErrEmptyCompletion)
	}
	return completion.Choices[0].Message.Content, nil
}
