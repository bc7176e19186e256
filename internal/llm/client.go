// internal/llm/client.go
//
// Minimal client for an OpenAI-compatible chat completions endpoint. This
// is the boundary adapter between the engine and whatever provider the
// operator points it at; the engine itself only sees a TranslateFunc and
// classified errors.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fawad-mazhar/syros/internal/models"
)

// Config selects the provider endpoint and model.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	CallTimeout time.Duration
	SystemHint  string // prepended system instruction, operator-supplied
}

// Client speaks the chat completions wire shape shared by OpenAI-compatible
// providers.
type Client struct {
	cfg  Config
	http *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	cfg.BaseURL = ensureV1(cfg.BaseURL)
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.CallTimeout},
	}, nil
}

// Translate renders the task into a prompt, performs one chat call, and
// returns the model output. All errors come back classified.
func (c *Client) Translate(ctx context.Context, task models.Task) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt(task)},
			{Role: "user", Content: userPrompt(task)},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", Classify(0, fmt.Errorf("failed to marshal chat request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Classify(0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return "", Classify(0, err)
	}
	defer rsp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	if err != nil {
		return "", Classify(rsp.StatusCode, err)
	}

	if rsp.StatusCode != http.StatusOK {
		return "", Classify(rsp.StatusCode,
			fmt.Errorf("provider returned %d: %s", rsp.StatusCode, strings.TrimSpace(string(data))))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", Classify(rsp.StatusCode, fmt.Errorf("failed to decode chat response: %w", err))
	}
	if out.Error != nil {
		return "", Classify(rsp.StatusCode, fmt.Errorf("provider error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", Classify(rsp.StatusCode, fmt.Errorf("provider returned no choices"))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *Client) systemPrompt(task models.Task) string {
	var b strings.Builder
	if c.cfg.SystemHint != "" {
		b.WriteString(c.cfg.SystemHint)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Translate the given fields into %s. Output only the translation.", task.TargetLang)
	return b.String()
}

func userPrompt(task models.Task) string {
	var b strings.Builder
	// stable field order so identical tasks render identical prompts
	names := make([]string, 0, len(task.Fields))
	for name := range task.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", name, task.Fields[name])
	}
	if task.Context != "" {
		fmt.Fprintf(&b, "[context]\n%s\n", task.Context)
	}
	return b.String()
}

func ensureV1(url string) string {
	url = strings.TrimSuffix(url, "/")
	if strings.HasSuffix(url, "/v1") {
		return url
	}
	return url + "/v1"
}
