// Package vision talks to the image-capable language model that turns a fridge photo
// into ingredient and recipe JSON.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Temperature is kept low so repeated scans of the same image stay consistent.
const Temperature = 0.3

// maxErrorBody bounds how much of a provider error response is read into an error.
const maxErrorBody = 4 << 10

// ErrEmptyCompletion is returned when the provider answers 2xx without any message content.
var ErrEmptyCompletion = errors.New("empty completion")

// Client analyzes a JPEG and returns the model's raw text answer.
type Client interface {
	Analyze(ctx context.Context, jpeg []byte) (string, error)
}

// OpenAIConfig holds settings for an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // e.g. https://api.openai.com/v1, no trailing slash
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAIClient calls {BaseURL}/chat/completions.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIClient creates a client. Timeout bounds the whole exchange including reading
// the response body; zero means 45s.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Analyze sends the image with SystemPrompt and returns the first choice's content.
// Transport errors, timeouts and non-2xx statuses are returned as errors.
func (c *OpenAIClient) Analyze(ctx context.Context, jpeg []byte) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: []contentPart{{
				Type:     "image_url",
				ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)},
			}}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := gjson.GetBytes(errBody, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(errBody))
		}
		return "", fmt.Errorf("model provider returned %s: %s", resp.Status, msg)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if content.Type != gjson.String || content.Str == "" {
		return "", ErrEmptyCompletion
	}
	return content.Str, nil
}
