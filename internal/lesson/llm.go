// Package lesson generates study documents with a text-generation model and
// keeps them on disk.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ashureev/studiora/internal/config"
	"github.com/sashabaranov/go-openai"
)

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// OpenAIProvider is a Completer backed by any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	cfg    config.LLMConfig
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider from the LLM configuration.
func NewOpenAIProvider(cfg config.LLMConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}
}

// Complete performs a single chat completion, retrying transient failures.
func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	var result string
	err := p.doWithRetry(ctx, func(ctx context.Context) error {
		req := openai.ChatCompletionRequest{
			Model: p.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

// doWithRetry runs fn with a per-attempt timeout and exponential backoff.
func (p *OpenAIProvider) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if p.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		}
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < p.cfg.MaxRetries-1 {
			wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			p.logger.Debug("LLM request failed, retrying",
				"attempt", attempt+1,
				"wait_time", wait,
				"error", lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
