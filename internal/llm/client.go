package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

// stateTag matches the first <state>...</state> occurrence, tag
// case-insensitive.
var stateTag = regexp.MustCompile(`(?is)<state>(.*?)</state>`)

// DecodeState extracts the reported state from a raw agent response. ok is
// false when the response carries no well-formed tag.
func DecodeState(raw string) (state string, ok bool) {
	match := stateTag.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}

// Completer is the agent boundary: one blocking request carrying the full
// conversation, one text blob back.
type Completer interface {
	Complete(ctx context.Context, conversation []domain.Message) (string, error)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	extraBody   map[string]interface{}
	httpClient  *http.Client
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	// ExtraBody is merged into the request payload for provider-specific
	// switches (e.g. disabling a thinking mode).
	ExtraBody map[string]interface{}
	// Timeout bounds the whole request; the core enforces no other timeout.
	Timeout time.Duration
}

// NewClient creates a client for the given endpoint.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		extraBody:   opts.ExtraBody,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the conversation and returns the assistant's text.
func (c *Client) Complete(ctx context.Context, conversation []domain.Message) (string, error) {
	payload := map[string]interface{}{
		"model":       c.model,
		"messages":    conversation,
		"temperature": c.temperature,
	}
	for k, v := range c.extraBody {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completion returned %d: %s", resp.StatusCode, excerpt(respBody))
	}

	var decoded completionResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("chat completion error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return decoded.Choices[0].Message.Content, nil
}

func excerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
