// Package llm is the query collaborator: it renders a session into an
// OpenAI-compatible chat completion request and returns the model's reply.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"kanade/internal/config"
	"kanade/internal/session"
)

const defaultTimeout = 30 * time.Second

// Client talks to one configured chat-completions endpoint.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	hyper      config.Hyperparameters
	maxRetries int
	prompt     *PromptBuilder
	client     *http.Client
	logger     *slog.Logger
}

func NewClient(cfg config.LLMConfig, hyper config.Hyperparameters, prompt *PromptBuilder, logger *slog.Logger) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		hyper:      hyper,
		maxRetries: maxRetries,
		prompt:     prompt,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`

	Seed              *int     `json:"seed,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	MinP              *float64 `json:"min_p,omitempty"`
	TopA              *float64 `json:"top_a,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Query implements scheduler.QueryFunc: build the request from the session's
// history as it stands now, post it with retry, extract the reply text.
func (c *Client) Query(ctx context.Context, sess *session.Session) (string, error) {
	payload := chatRequest{
		Model:             c.model,
		Messages:          c.prompt.Build(sess),
		Temperature:       c.hyper.Temperature,
		MaxTokens:         c.hyper.MaxTokens,
		Seed:              c.hyper.Seed,
		TopP:              c.hyper.TopP,
		TopK:              c.hyper.TopK,
		FrequencyPenalty:  c.hyper.FrequencyPenalty,
		PresencePenalty:   c.hyper.PresencePenalty,
		RepetitionPenalty: c.hyper.RepetitionPenalty,
		MinP:              c.hyper.MinP,
		TopA:              c.hyper.TopA,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion request failed: HTTP %d: %s", resp.StatusCode, truncate(raw, 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response has no choices: %s", truncate(raw, 500))
	}

	choice := parsed.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn("completion truncated by max_tokens", "model", c.model)
	}

	content := choice.Message.Content
	if content == "" {
		content = choice.Delta.Content
	}
	c.logger.Debug("completion succeeded",
		"model", c.model,
		"latency", time.Since(start),
		"reply_len", len(content),
	)
	return content, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
