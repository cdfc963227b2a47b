package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompleter produces the next assistant turn for a conversation.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyCompletion is returned when the gateway answers without text.
var ErrEmptyCompletion = errors.New("empty completion")

// APIError is a non-2xx answer from an OpenAI-compatible endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm api error: status %d", e.StatusCode)
}

// Config points a client at an OpenAI-compatible API. BaseURL includes the
// version prefix, e.g. "https://api.openai.com/v1".
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAICompatChat calls /chat/completions on any OpenAI-compatible gateway.
type OpenAICompatChat struct {
	cfg        Config
	httpClient *http.Client
}

// NewOpenAICompatChat builds a chat client.
func NewOpenAICompatChat(cfg Config) (*OpenAICompatChat, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base url required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAICompatChat{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the first choice.
func (c *OpenAICompatChat) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("at least one message required")
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *OpenAICompatChat) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return doPost(ctx, c.httpClient, c.cfg.BaseURL+path, c.cfg.APIKey, body)
}

// doPost sends a JSON body and converts error statuses to *APIError. The
// caller owns the returned body.
func doPost(ctx context.Context, client *http.Client, url, apiKey string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &errResp)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}
	return resp, nil
}
