// Package generate is the generation stage (C5): builds the excerpt context
// fed to the model and calls an OpenAI-compatible chat completions endpoint
// with the fixed quote-first system prompt.
package generate

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

// SystemPromptVersion is pinned so a replay packet can tell whether a
// changed answer came from a changed prompt rather than a changed corpus.
const SystemPromptVersion = "v2.0-quote-first"

// systemPrompt requires the model to (1) use only text from the provided
// excerpts, (2) back every statement with a verbatim quote, (3) emit hidden
// citation markers immediately after each supported sentence, and (4)
// respond with the fixed not-found string when nothing supports the query.
const systemPrompt = `You answer questions about U.S. Federal Circuit and Supreme Court patent opinions using ONLY the excerpts provided below.

Rules:
1. Use only text from the provided excerpts. Never rely on outside knowledge of case law.
2. Every factual statement must be backed by a verbatim quote from an excerpt.
3. Immediately after each sentence you support with a quote, emit a hidden citation marker of the exact form:
   <!--CITE:<opinion_id>|<page_number>|"<verbatim quote>"-->
   The quote inside the marker must be copied character-for-character from the excerpt, including punctuation.
4. If no excerpt supports the question, respond with exactly: NOT FOUND IN PROVIDED OPINIONS.
Do not add commentary after the final citation marker. Do not fabricate an opinion id, page number, or quote.`

// Excerpt is one page of context fed to the model, delimited so the model
// can unambiguously locate quote boundaries.
type Excerpt struct {
	OpinionID string
	CaseName  string
	Page      int
	Text      string
}

// BuildContext renders excerpts as BEGIN/END-delimited blocks, the same
// shape the model is instructed to quote verbatim from.
func BuildContext(excerpts []Excerpt) string {
	var b strings.Builder
	for _, e := range excerpts {
		fmt.Fprintf(&b, "BEGIN EXCERPT opinion_id=%s case_name=%q page=%d\n%s\nEND EXCERPT\n\n",
			e.OpinionID, e.CaseName, e.Page, e.Text)
	}
	return b.String()
}

// Config pins the generation parameters for every call, recorded verbatim
// into the audit record's ModelConfig so a replay can tell whether a
// changed answer came from a changed model.
type Config struct {
	Model       string
	Temperature float64 // 0.1-0.2: deterministic enough for quote-first answers
	MaxTokens   int
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a Client. baseURL defaults to OpenAI's own endpoint
// when empty, matching internal/service/embedding's provider pattern.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
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
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const maxResponseBody = 10 * 1024 * 1024

// Answer calls the chat completions endpoint with the pinned system prompt,
// the rendered excerpt context, and the user's question, returning the raw
// model answer before it has been bound or verified.
func (c *Client) Answer(ctx context.Context, cfg Config, excerptContext, question string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: excerptContext + "\n\nQuestion: " + question},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("generate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("generate: read response: %w", err)
	}

	var result chatResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &result) == nil && result.Error != nil {
			return "", fmt.Errorf("generate: chat api error (HTTP %d): %s", resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("generate: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("generate: unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("generate: no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}
