// Package llm talks to an OpenAI-compatible chat-completions endpoint.
// Relevance scoring and summarization both go through this client; transport
// failures are surfaced as errors so callers can distinguish "service
// unavailable" from "service judged the paper irrelevant".
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// Message is one chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chatter is the capability the ranking and summarization stages consume.
// Tests substitute a deterministic stub.
type Chatter interface {
	ChatJSON(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// Client communicates with an OpenAI-compatible API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client for the given base URL (e.g. an OpenAI-style
// /v1 endpoint), API key and model.
func New(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	Stream         bool      `json:"stream"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// ChatJSON sends messages requesting a JSON object response and returns the
// assistant's raw content. Providers that reject response_format get one
// retry without it; the caller is expected to run the content through
// ExtractJSON either way.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, temperature float64) (string, error) {
	content, err := c.chat(ctx, messages, temperature, map[string]string{"type": "json_object"})
	if err == nil {
		return content, nil
	}
	return c.chat(ctx, messages, temperature, nil)
}

func (c *Client) chat(ctx context.Context, messages []Message, temperature float64, format any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    temperature,
		Stream:         false,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices")
	}
	return result.Choices[0].Message.Content, nil
}

// ExtractJSON pulls a JSON object out of an LLM response. Models frequently
// wrap JSON in markdown code fences or prepend conversational filler, so the
// parser strips fences and slices from the first { to the last }.
func ExtractJSON(resp string) ([]byte, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	obj := s[start : end+1]
	if !json.Valid([]byte(obj)) {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	return []byte(obj), nil
}
