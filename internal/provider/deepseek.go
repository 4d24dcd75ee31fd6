package provider

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

const optimizerInstruction = "You are a prompt engineer for AI video generation. " +
	"Rewrite the user's description into a vivid, concrete video-generation prompt: " +
	"name the scene, the motion and the mood, keep it under 100 words, and reply " +
	"with the rewritten prompt only."

// DeepSeekOptions configures the prompt optimizer.
type DeepSeekOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// DeepSeek rewrites raw user prompts through a chat-completions call before
// they reach the video provider. It is best-effort: callers fall back to the
// raw prompt when OptimizePrompt fails.
type DeepSeek struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewDeepSeek constructs an optimizer client with sane defaults.
func NewDeepSeek(opts DeepSeekOptions) (*DeepSeek, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("deepseek: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "deepseek-chat"
	}
	return &DeepSeek{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: httpClient}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OptimizePrompt rewrites userInput into a richer generation prompt.
func (c *DeepSeek) OptimizePrompt(ctx context.Context, userInput string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: optimizerInstruction},
			{Role: "user", Content: userInput},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("deepseek: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("deepseek: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepseek: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("deepseek: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("deepseek: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("deepseek: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("deepseek: empty choices")
	}
	out := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("deepseek: empty completion")
	}
	return out, nil
}
