// Package llm talks to an OpenAI-compatible chat completion endpoint
// (Groq by default).
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tailortalk/internal/apperr"
)

// Options configures a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration

	// HTTPClient overrides the transport; Timeout is applied when it is nil.
	HTTPClient *http.Client
}

// Client sends single-shot prompts. It never retries.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, apperr.New(apperr.CodeConfigInvalid, "llm api key is empty")
	}
	if opts.Model == "" {
		return nil, apperr.New(apperr.CodeConfigInvalid, "llm model is empty")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
	}, nil
}

// Complete sends the system instruction and the user's utterance and returns
// the first choice's content.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: strings.TrimSpace(system)},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", transportError(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.CodeLLMTransport, "llm returned no choices").WithContext("model", c.model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func transportError(err error) error {
	wrapped := apperr.Wrap(err, apperr.CodeLLMTransport, "chat completion")
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped.WithContext("status", apiErr.HTTPStatusCode)
	}
	return wrapped
}
