package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"copilot-server/pkg/config"
	"copilot-server/pkg/errors"
	"copilot-server/pkg/metrics"
)

// Completer produces a completion for a prompt. Blocking components depend
// on this interface so tests can substitute deterministic implementations.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client talks to an OpenAI-compatible chat completions gateway.
// Each call is a single attempt bounded by the configured timeout;
// retry policy belongs to the caller.
type Client struct {
	logger *logrus.Logger
	cfg    config.LLMConfig
	http   *http.Client

	mu     sync.RWMutex
	apiKey string
}

// NewClient creates a new gateway client.
func NewClient(logger *logrus.Logger, cfg config.LLMConfig) *Client {
	return &Client{
		logger: logger,
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		apiKey: cfg.APIKey,
	}
}

// SetAPIKey replaces the bearer token at runtime.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// Configured reports whether the client can reach a gateway.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.GatewayURL != "" && c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion request and returns the raw content of
// the first choice.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.RLock()
	apiKey := c.apiKey
	c.mu.RUnlock()

	if c.cfg.GatewayURL == "" || apiKey == "" {
		return "", errors.ErrLLMNotConfigured
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode chat request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	timer := metrics.ObserveLLMRequest()
	resp, err := c.http.Do(req)
	if err != nil {
		timer.Done("transport_error")
		c.logger.WithError(err).Warn("LLM gateway request failed")
		return "", errors.Wrap(err, "llm gateway request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		timer.Done("read_error")
		return "", errors.Wrap(err, "failed to read llm response")
	}

	if resp.StatusCode != http.StatusOK {
		timer.Done(fmt.Sprintf("http_%d", resp.StatusCode))
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
		}).Warn("LLM gateway returned non-200 status")
		return "", errors.Wrap(errors.ErrUnavailable, fmt.Sprintf("llm gateway status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		timer.Done("decode_error")
		return "", errors.Wrap(err, "failed to decode llm response")
	}
	if len(parsed.Choices) == 0 {
		timer.Done("empty_response")
		return "", errors.New("llm response contained no choices")
	}

	timer.Done("ok")
	return parsed.Choices[0].Message.Content, nil
}
