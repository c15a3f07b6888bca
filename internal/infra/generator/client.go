package generator

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

	"promptforge/internal/domain/generation"
)

const defaultBaseURL = "https://api.openai.com/v1"

var ErrNotConfigured = errors.New("generator: api key is empty")

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	defaultModel string
}

func NewClient(httpClient *http.Client, baseURL, apiKey, defaultModel string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient:   httpClient,
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: defaultModel,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate produces the text for one slot.
func (c *Client) Generate(ctx context.Context, in generation.Input) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", ErrNotConfigured
	}

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.defaultModel
	}

	messages := []chatMessage{}
	if style := strings.TrimSpace(in.Style); style != "" {
		messages = append(messages, chatMessage{Role: "system", Content: "Render the result in the " + style + " style."})
	}
	messages = append(messages, chatMessage{Role: "user", Content: in.Prompt})

	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": temperatureFor(in.Variation),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.baseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("generator error: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("generator returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// temperatureFor spreads variations between 0.7 and 1.2.
func temperatureFor(variation int) float64 {
	if variation < 0 {
		variation = -variation
	}
	return 0.7 + float64(variation%6)*0.1
}
